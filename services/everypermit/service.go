// Package everypermit posts newly filed city permits from the citizen
// portal.
package everypermit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/ledger"
	"cvillebots/lib/scrapers/permitportal"
	"cvillebots/lib/statustext"
	"cvillebots/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/everypermit")

type Publisher interface {
	Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error)
}

type Credentials struct {
	Username string `env:"PORTAL_USERNAME,required"`
	Password string `env:"PORTAL_PASSWORD,required"`
}

type Options struct {
	Lookback time.Duration
}

const (
	DefaultLookback = time.Hour * 24 * 7

	// hard ceiling on post length and on how many permit detail lines
	// a post may carry
	maxMessageLen = 300
	maxDetails    = 5
)

type Service struct {
	portal *permitportal.Client
	ledger *ledger.Ledger
	pub    Publisher
	creds  Credentials
	opts   Options
}

func NewService(
	portal *permitportal.Client,
	led *ledger.Ledger,
	pub Publisher,
	creds Credentials,
	opts Options,
) Service {
	if opts.Lookback == 0 {
		opts.Lookback = DefaultLookback
	}
	return Service{
		portal: portal,
		ledger: led,
		pub:    pub,
		creds:  creds,
		opts:   opts,
	}
}

func (s Service) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	// a failed login fails the whole run; without a session every
	// detail page just renders the login form
	err := s.portal.Login(ctx, s.creds.Username, s.creds.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("portal login: %w", err)
	}

	now := timezone.Now()
	results, err := s.portal.Search(ctx, timezone.StartOfDay(now.Add(-s.opts.Lookback)), now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	slog.InfoContext(ctx, "searched permits", "count", len(results))

	for _, result := range results {
		id := result.Id()
		if id == "" {
			slog.WarnContext(ctx, "search row without an id", "row", result)
			continue
		}

		posted, err := s.ledger.Has(ctx, id)
		if err != nil {
			return err
		}
		if posted {
			slog.DebugContext(ctx, "already posted", "permit", id)
			continue
		}

		ref, err := s.postPermit(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "failed to post permit", "permit", id, "err", err)
			continue
		}
		err = s.ledger.Put(ctx, id, ledger.Entry{PostRef: ref.String()})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s Service) postPermit(ctx context.Context, id string) (bsky.PostRef, error) {
	ctx, span := tracer.Start(ctx, "postPermit")
	defer span.End()

	permit, err := s.portal.Permit(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return bsky.PostRef{}, err
	}

	text, err := Message(permit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return bsky.PostRef{}, fmt.Errorf("permit %s: %w", id, err)
	}

	post := bsky.Post{Text: text}
	if facet, ok := bsky.LinkFacet(text, permit.Url); ok {
		post.Facets = append(post.Facets, facet)
	}

	ref, err := s.pub.Publish(ctx, post)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return bsky.PostRef{}, err
	}
	return ref, nil
}

// Message renders a permit post: a header line, up to maxDetails detail
// lines, and the permit url, separated by blank lines. details get
// dropped from the end until the whole message fits.
func Message(permit permitportal.Permit) (string, error) {
	header := permit.Info["Project Number"]
	if kind := permit.Info["Project Type"]; kind != "" {
		if sub := permit.Info["Project Sub Type"]; sub != "" && sub != kind {
			kind = fmt.Sprintf("%s/%s", kind, sub)
		}
		header = fmt.Sprintf("%s: %s", header, kind)
	}
	if address := permit.Info["Address"]; address != "" {
		header = fmt.Sprintf("%s @ %s", header, address)
	}

	return statustext.Fit(maxMessageLen, maxDetails, func(details int) string {
		blocks := []string{header}

		var lines []string
		if details > 0 {
			for i, key := range permit.DetailKeys {
				if i == details {
					lines = append(lines, "...")
					break
				}
				lines = append(lines, fmt.Sprintf("%s: %s", key, permit.Details[key]))
			}
		}
		if len(lines) > 0 {
			blocks = append(blocks, strings.Join(lines, "\n"))
		}

		blocks = append(blocks, permit.Url)
		return strings.Join(blocks, "\n\n")
	})
}
