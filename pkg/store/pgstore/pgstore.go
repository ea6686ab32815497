// Package pgstore implements the store interface on a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/restio/restio/pkg/metrics"
	"github.com/restio/restio/pkg/store"
)

// db is the pgx surface shared by *pgxpool.Pool and pgx.Tx.
type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store runs squirrel statements on PostgreSQL.
type Store struct {
	db     db
	pool   *pgxpool.Pool // nil inside a transaction
	logger *zap.Logger
}

// New returns a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: pool, pool: pool, logger: logger}
}

func (s *Store) Select(ctx context.Context, q sq.Sqlizer) ([]store.Row, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	defer metrics.ObserveStoreQuery("select", time.Now())
	s.logger.Debug("select", zap.String("sql", sql))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapPgError(err)
	}
	defer rows.Close()
	return rowsToMaps(rows)
}

func (s *Store) SelectOne(ctx context.Context, q sq.Sqlizer) (store.Row, error) {
	rows, err := s.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) Count(ctx context.Context, q sq.Sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	defer metrics.ObserveStoreQuery("count", time.Now())

	var count int64
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, wrapPgError(err)
	}
	return count, nil
}

func (s *Store) Exec(ctx context.Context, q sq.Sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	defer metrics.ObserveStoreQuery("exec", time.Now())
	s.logger.Debug("exec", zap.String("sql", sql))

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, wrapPgError(err)
	}
	return tag.RowsAffected(), nil
}

// InTx runs fn inside one transaction. Nested calls reuse the enclosing
// transaction.
func (s *Store) InTx(ctx context.Context, fn func(store.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

// wrapPgError maps SQLSTATE class 23 (integrity violations) onto the
// store's constraint error so the API layer can report it as a failed
// dependency.
func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		metrics.StoreConstraintErrors.Inc()
		return fmt.Errorf("%w: %s", store.ErrConstraint, pgErr.Message)
	}
	return err
}

func rowsToMaps(rows pgx.Rows) ([]store.Row, error) {
	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = string(fd.Name)
	}

	var result []store.Row
	for rows.Next() {
		values := make([]any, len(names))
		pointers := make([]any, len(names))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
