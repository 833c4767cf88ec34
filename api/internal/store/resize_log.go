package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const schema = `
create table if not exists resize_log (
  id          bigserial primary key,
  created_at  timestamptz not null default now(),
  user_id     bigint not null,
  exam        text not null,
  category    text not null,
  width       int not null,
  height      int not null,
  quality     int not null,
  size_bytes  int not null,
  within_max  boolean not null
);
create index if not exists resize_log_user_idx on resize_log (user_id, created_at desc);`

// Entry is one delivered resize.
type Entry struct {
	UserID    int64
	Exam      string
	Category  string
	Width     int
	Height    int
	Quality   int
	SizeBytes int
	WithinMax bool
}

type ResizeLog struct{ DB *sql.DB }

func NewResizeLog(db *sql.DB) *ResizeLog { return &ResizeLog{DB: db} }

// EnsureSchema creates the journal table when missing.
func (r *ResizeLog) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

func (r *ResizeLog) Record(ctx context.Context, e Entry) error {
	const q = `
insert into resize_log (user_id, exam, category, width, height, quality, size_bytes, within_max)
values ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.DB.ExecContext(ctx, q,
		e.UserID, e.Exam, e.Category, e.Width, e.Height, e.Quality, e.SizeBytes, e.WithinMax)
	return err
}

// PurgeOlderThan keeps the journal from growing without bound.
func (r *ResizeLog) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from resize_log where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
