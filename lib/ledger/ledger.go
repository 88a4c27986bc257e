// Package ledger is the persistent record of already-posted items.
//
// keys are the natural identifier of the upstream record (parcel number,
// permit id, or a composite); entries are created exactly once, after the
// post for that key succeeds, and never updated or deleted afterwards.
// an entry existing is the one and only "already posted" signal, so callers
// must never Put until the external post went through.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cvillebots/lib/ledger/db"
	"cvillebots/lib/sqliteutil"
	"cvillebots/lib/timezone"
)

var ErrNotFound = errors.New("key not in ledger")

type Entry struct {
	// reference to the external post, e.g. an at:// record uri
	PostRef string
	// set when the post is part of a thread
	ThreadRoot   string
	ThreadParent string
}

type Ledger struct {
	db  *sql.DB
	qry *db.Queries
}

func Open(path string) (*Ledger, error) {
	database, err := sqliteutil.OpenDB(db.Schema, path)
	if err != nil {
		return nil, err
	}
	return New(database), nil
}

func New(database *sql.DB) *Ledger {
	return &Ledger{
		db:  database,
		qry: db.New(database),
	}
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Has(ctx context.Context, key string) (bool, error) {
	count, err := l.qry.HasPost(ctx, key)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (l *Ledger) Get(ctx context.Context, key string) (Entry, error) {
	post, err := l.qry.GetPost(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		PostRef:      post.PostRef,
		ThreadRoot:   post.ThreadRoot,
		ThreadParent: post.ThreadParent,
	}, nil
}

// Put writes through to disk immediately; a crash after Put never
// re-posts the key, a crash before loses at most the in-flight item
func (l *Ledger) Put(ctx context.Context, key string, entry Entry) error {
	err := l.qry.CreatePost(ctx, db.CreatePostParams{
		Key:          key,
		PostRef:      entry.PostRef,
		ThreadRoot:   entry.ThreadRoot,
		ThreadParent: entry.ThreadParent,
		CreatedAt:    timezone.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

type KeyedEntry struct {
	Key       string
	Entry     Entry
	CreatedAt int64
}

// List is for operational inspection only, the bots never read it
func (l *Ledger) List(ctx context.Context) ([]KeyedEntry, error) {
	posts, err := l.qry.ListPosts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KeyedEntry, len(posts))
	for i, p := range posts {
		out[i] = KeyedEntry{
			Key: p.Key,
			Entry: Entry{
				PostRef:      p.PostRef,
				ThreadRoot:   p.ThreadRoot,
				ThreadParent: p.ThreadParent,
			},
			CreatedAt: p.CreatedAt,
		}
	}
	return out, nil
}
