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

const createParcel = `
insert into parcels (parcel_number) values (?)
on conflict (parcel_number) do nothing
`

func (q *Queries) CreateParcel(ctx context.Context, parcelNumber string) error {
	_, err := q.db.ExecContext(ctx, createParcel, parcelNumber)
	return err
}

const nextUnposted = `
select parcel_number from parcels
where posted = 0 order by parcel_number limit 1
`

func (q *Queries) NextUnposted(ctx context.Context) (string, error) {
	row := q.db.QueryRowContext(ctx, nextUnposted)
	var parcelNumber string
	err := row.Scan(&parcelNumber)
	return parcelNumber, err
}

const markPosted = `
update parcels set posted = 1, posted_at = ? where parcel_number = ?
`

type MarkPostedParams struct {
	ParcelNumber string
	PostedAt     int64
}

func (q *Queries) MarkPosted(ctx context.Context, arg MarkPostedParams) error {
	_, err := q.db.ExecContext(ctx, markPosted, arg.PostedAt, arg.ParcelNumber)
	return err
}

const countUnposted = `
select count(*) from parcels where posted = 0
`

func (q *Queries) CountUnposted(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUnposted)
	var count int64
	err := row.Scan(&count)
	return count, err
}
