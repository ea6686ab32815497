// Package store defines the backing-store interface the API engine queries:
// projection, filter predicates, joins, ordering, offset/limit and
// transactional write-with-flush, expressed as squirrel statements.
package store

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
)

// Row is one fetched row, keyed by column name.
type Row = map[string]any

// ErrConstraint marks a backing-store integrity violation on a write. The
// engine surfaces it once and never retries.
var ErrConstraint = errors.New("constraint violation")

// Store executes composed statements against the backing store. All calls
// block; cancellation is owned by the caller's context.
type Store interface {
	// Select executes a row query and returns all rows.
	Select(ctx context.Context, q sq.Sqlizer) ([]Row, error)
	// SelectOne executes a row query expected to match at most one row.
	// It returns nil, nil when no row matches.
	SelectOne(ctx context.Context, q sq.Sqlizer) (Row, error)
	// Count executes a count query and returns the single counted value.
	Count(ctx context.Context, q sq.Sqlizer) (int64, error)
	// Exec executes a write statement and returns the affected row count.
	Exec(ctx context.Context, q sq.Sqlizer) (int64, error)
	// InTx runs fn against a store bound to a single transaction,
	// committing on nil and rolling back on error.
	InTx(ctx context.Context, fn func(Store) error) error
}
