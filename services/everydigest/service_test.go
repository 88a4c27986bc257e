package everydigest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/telemetry"
	"cvillebots/lib/timezone"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	posts []bsky.Post
}

func (p *fakePublisher) Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error) {
	p.posts = append(p.posts, post)
	return bsky.PostRef{Uri: "at://did:plc:digest/app.bsky.feed.post/1", Cid: "cid1"}, nil
}

type fakeFeed struct {
	feeds map[string][]bsky.FeedPost
}

func (f *fakeFeed) AuthorFeed(ctx context.Context, actor string, limit int) ([]bsky.FeedPost, error) {
	posts, ok := f.feeds[actor]
	if !ok {
		return nil, fmt.Errorf("unknown actor %q", actor)
	}
	return posts, nil
}

func feedPost(author, rkey string, likes, reposts int64, indexedAt time.Time) bsky.FeedPost {
	return bsky.FeedPost{
		Ref: bsky.PostRef{
			Uri: fmt.Sprintf("at://did:plc:%s/app.bsky.feed.post/%s", author, rkey),
			Cid: "cid-" + rkey,
		},
		Author:      author,
		LikeCount:   likes,
		RepostCount: reposts,
		IndexedAt:   indexedAt,
	}
}

func TestRun(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:everydigest")
	t.Cleanup(cleanup)

	until := timezone.StartOfDay(timezone.Now()).AddDate(0, 0, -1)
	inWindow := until.Add(-time.Hour * 12)
	tooNew := until.Add(time.Hour)
	tooOld := until.AddDate(0, 0, -2)

	feed := &fakeFeed{feeds: map[string][]bsky.FeedPost{
		"everylot.example.com": {
			feedPost("everylot.example.com", "aaa", 3, 1, inWindow),
			// the biggest engagement of all, but outside the window
			feedPost("everylot.example.com", "bbb", 90, 30, tooNew),
		},
		"everysale.example.com": {
			feedPost("everysale.example.com", "ccc", 10, 5, inWindow),
			feedPost("everysale.example.com", "ddd", 50, 2, tooOld),
		},
	}}

	pub := &fakePublisher{}
	svc := NewService(feed, pub, Options{
		Roster: []string{"everylot.example.com", "everysale.example.com"},
	})

	require.NoError(t, svc.Run(context.Background()))
	require.Len(t, pub.posts, 1)

	post := pub.posts[0]
	require.Contains(t, post.Text, "Top lot bot post from")
	require.Contains(t, post.Text, "https://bsky.app/profile/everysale.example.com/post/ccc")
	require.Len(t, post.Facets, 1)
}

func TestRunWithEmptyWindow(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:everydigest")
	t.Cleanup(cleanup)

	feed := &fakeFeed{feeds: map[string][]bsky.FeedPost{
		"everylot.example.com": {},
	}}
	pub := &fakePublisher{}
	svc := NewService(feed, pub, Options{Roster: []string{"everylot.example.com"}})

	require.NoError(t, svc.Run(context.Background()))
	require.Empty(t, pub.posts)
}

func TestSampleWithoutReplacement(t *testing.T) {
	roster := []string{"a", "b", "c", "d", "e"}

	picked, err := sample(roster, 3)
	require.NoError(t, err)
	require.Len(t, picked, 3)
	seen := map[string]bool{}
	for _, account := range picked {
		require.Contains(t, roster, account)
		require.False(t, seen[account])
		seen[account] = true
	}

	// asking for more than the roster holds returns the whole roster
	all, err := sample(roster, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
}
