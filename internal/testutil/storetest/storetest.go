// Package storetest provides a scripted in-memory store.Store for handler
// and serializer tests. Queries are matched against registered SQL fragments,
// so tests script only the statements they expect.
package storetest

import (
	"context"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"

	"github.com/restio/restio/pkg/store"
)

// Call records one executed statement.
type Call struct {
	SQL  string
	Args []any
}

type rowRule struct {
	match string
	rows  []store.Row
}

type countRule struct {
	match string
	n     int64
}

// Store is a scripted store.Store. Register expected results with Rows and
// Counts before use; every executed statement is recorded in Calls.
type Store struct {
	mu         sync.Mutex
	rowRules   []rowRule
	countRules []countRule

	// Err, when set, is returned by every Exec.
	Err error

	Calls []Call
}

func New() *Store {
	return &Store{}
}

// Rows registers the result set for any query whose rendered SQL contains
// match. Rules are checked in registration order; the first hit wins.
func (s *Store) Rows(match string, rows ...store.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowRules = append(s.rowRules, rowRule{match: match, rows: rows})
}

// Counts registers the value returned by Count for any query whose rendered
// SQL contains match.
func (s *Store) Counts(match string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countRules = append(s.countRules, countRule{match: match, n: n})
}

// Statements returns the rendered SQL of every recorded call, in order.
func (s *Store) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.SQL
	}
	return out
}

func (s *Store) record(q sq.Sqlizer) (string, []any, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	s.Calls = append(s.Calls, Call{SQL: sql, Args: args})
	s.mu.Unlock()
	return sql, args, nil
}

func (s *Store) lookup(sql string) []store.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rule := range s.rowRules {
		if strings.Contains(sql, rule.match) {
			return rule.rows
		}
	}
	return nil
}

func (s *Store) Select(ctx context.Context, q sq.Sqlizer) ([]store.Row, error) {
	sql, _, err := s.record(q)
	if err != nil {
		return nil, err
	}
	return s.lookup(sql), nil
}

func (s *Store) SelectOne(ctx context.Context, q sq.Sqlizer) (store.Row, error) {
	sql, _, err := s.record(q)
	if err != nil {
		return nil, err
	}
	rows := s.lookup(sql)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) Count(ctx context.Context, q sq.Sqlizer) (int64, error) {
	sql, _, err := s.record(q)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rule := range s.countRules {
		if strings.Contains(sql, rule.match) {
			return rule.n, nil
		}
	}
	return 0, nil
}

func (s *Store) Exec(ctx context.Context, q sq.Sqlizer) (int64, error) {
	if _, _, err := s.record(q); err != nil {
		return 0, err
	}
	if s.Err != nil {
		return 0, s.Err
	}
	return 1, nil
}

// InTx runs fn against the same scripted store; there is no transactional
// isolation to fake.
func (s *Store) InTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}
