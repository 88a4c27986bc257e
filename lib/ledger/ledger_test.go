package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cvillebots/lib/ledger/db"
	"cvillebots/lib/testutil"

	"github.com/stretchr/testify/require"
)

func TestLedger(t *testing.T) {
	setup, cleanup := testutil.SetupBot(t, testutil.BotParams{
		Name:     "lib/ledger",
		DbSchema: db.Schema,
	})
	defer cleanup()
	l := New(setup.DB)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	has, err := l.Has(ctx, "510123000")
	require.NoError(t, err)
	require.False(t, has)

	_, err = l.Get(ctx, "510123000")
	require.ErrorIs(t, err, ErrNotFound)

	entry := Entry{
		PostRef:      "at://did:plc:abc/app.bsky.feed.post/3k44",
		ThreadRoot:   "at://did:plc:abc/app.bsky.feed.post/3k42",
		ThreadParent: "at://did:plc:abc/app.bsky.feed.post/3k43",
	}
	err = l.Put(ctx, "510123000", entry)
	require.NoError(t, err)

	has, err = l.Has(ctx, "510123000")
	require.NoError(t, err)
	require.True(t, has)

	got, err := l.Get(ctx, "510123000")
	require.NoError(t, err)
	require.Equal(t, entry, got)

	// create-once: writing the same key again must fail rather than
	// silently overwrite
	err = l.Put(ctx, "510123000", Entry{PostRef: "at://other"})
	require.Error(t, err)
	got, err = l.Get(ctx, "510123000")
	require.NoError(t, err)
	require.Equal(t, entry, got)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	err = l.Put(ctx, "permit-2101", Entry{PostRef: "at://did:plc:abc/app.bsky.feed.post/3k99"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// keys written before a restart stay skipped forever
	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	has, err := l.Has(ctx, "permit-2101")
	require.NoError(t, err)
	require.True(t, has)

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "permit-2101", entries[0].Key)
}
