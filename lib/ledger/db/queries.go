package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type Post struct {
	Key          string
	PostRef      string
	ThreadRoot   string
	ThreadParent string
	CreatedAt    int64
}

const createPost = `
insert into posts (key, post_ref, thread_root, thread_parent, created_at)
values (?, ?, ?, ?, ?)
`

type CreatePostParams struct {
	Key          string
	PostRef      string
	ThreadRoot   string
	ThreadParent string
	CreatedAt    int64
}

func (q *Queries) CreatePost(ctx context.Context, arg CreatePostParams) error {
	_, err := q.db.ExecContext(ctx, createPost,
		arg.Key,
		arg.PostRef,
		arg.ThreadRoot,
		arg.ThreadParent,
		arg.CreatedAt,
	)
	return err
}

const getPost = `
select key, post_ref, thread_root, thread_parent, created_at
from posts where key = ?
`

func (q *Queries) GetPost(ctx context.Context, key string) (Post, error) {
	row := q.db.QueryRowContext(ctx, getPost, key)
	var p Post
	err := row.Scan(&p.Key, &p.PostRef, &p.ThreadRoot, &p.ThreadParent, &p.CreatedAt)
	return p, err
}

const hasPost = `
select count(*) from posts where key = ?
`

func (q *Queries) HasPost(ctx context.Context, key string) (int64, error) {
	row := q.db.QueryRowContext(ctx, hasPost, key)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const listPosts = `
select key, post_ref, thread_root, thread_parent, created_at
from posts order by created_at desc, key
`

func (q *Queries) ListPosts(ctx context.Context) ([]Post, error) {
	rows, err := q.db.QueryContext(ctx, listPosts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var p Post
		err := rows.Scan(&p.Key, &p.PostRef, &p.ThreadRoot, &p.ThreadParent, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
