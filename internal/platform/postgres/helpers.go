package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/store"
)

// Option configures a Postgres store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the clock used for claim, lease and retry
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// withTx runs fn in a new transaction when the store owns a *sql.DB, and
// directly on db when the store was built over a caller's transaction.
func withTx(ctx context.Context, sqlDB *sql.DB, db store.DBTX, fn func(store.DBTX) error) error {
	if sqlDB == nil {
		return fn(db)
	}
	return store.RunInTransaction(ctx, sqlDB, func(ctx context.Context, tx *sql.Tx) error {
		return fn(tx)
	})
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// jsonArg passes raw JSON as text so the server casts it to jsonb.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
