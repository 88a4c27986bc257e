// Package everydigest posts a daily roundup: the most engaging recent
// post from a roster of sister bot accounts.
package everydigest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"cvillebots/lib/bsky"
	"cvillebots/lib/timezone"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/everydigest")

type Publisher interface {
	Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error)
}

type Feed interface {
	AuthorFeed(ctx context.Context, actor string, limit int) ([]bsky.FeedPost, error)
}

type Options struct {
	// handles of the accounts the digest draws from
	Roster []string `json:"roster"`
	// how many roster accounts to consider per digest; 0 means all
	SampleSize int `json:"sample_size"`
}

const feedFetchLimit = 50

type Service struct {
	feed Feed
	pub  Publisher
	opts Options
}

func NewService(feed Feed, pub Publisher, opts Options) Service {
	return Service{
		feed: feed,
		pub:  pub,
		opts: opts,
	}
}

// uniform sample without replacement
func sample(roster []string, n int) ([]string, error) {
	if n <= 0 || n >= len(roster) {
		return roster, nil
	}
	pool := slices.Clone(roster)
	out := make([]string, 0, n)
	for len(out) < n {
		i, err := random.IntRange(0, len(pool))
		if err != nil {
			return nil, err
		}
		out = append(out, pool[i])
		pool = append(pool[:i], pool[i+1:]...)
	}
	return out, nil
}

// Run looks at a one-day window ending at the most recent midnight a
// day ago, so every candidate post had a full day to collect likes.
func (s Service) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	until := timezone.StartOfDay(timezone.Now()).AddDate(0, 0, -1)
	since := until.AddDate(0, 0, -1)

	accounts, err := sample(s.opts.Roster, s.opts.SampleSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var best *bsky.FeedPost
	for _, account := range accounts {
		posts, err := s.feed.AuthorFeed(ctx, account, feedFetchLimit)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch author feed", "account", account, "err", err)
			continue
		}
		for _, post := range posts {
			if post.IndexedAt.Before(since) || !post.IndexedAt.Before(until) {
				continue
			}
			if best == nil || engagement(post) > engagement(*best) {
				candidate := post
				best = &candidate
			}
		}
	}

	if best == nil {
		slog.InfoContext(ctx, "no posts in the digest window", "since", since, "until", until)
		return nil
	}

	url := bsky.PostUrl(best.Author, best.Ref)
	text := fmt.Sprintf(
		"Top lot bot post from %s to %s: %s",
		since.Format("January 2"),
		until.Format("January 2"),
		url,
	)
	post := bsky.Post{Text: text}
	if facet, ok := bsky.LinkFacet(text, url); ok {
		post.Facets = append(post.Facets, facet)
	}

	_, err = s.pub.Publish(ctx, post)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func engagement(post bsky.FeedPost) int64 {
	return post.LikeCount + post.RepostCount
}
