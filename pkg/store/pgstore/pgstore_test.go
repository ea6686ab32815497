package pgstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restio/restio/internal/testutil/pgtest"
	"github.com/restio/restio/pkg/store"
)

func TestWrapPgError(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	err := wrapPgError(unique)
	assert.ErrorIs(t, err, store.ErrConstraint)
	assert.Contains(t, err.Error(), "duplicate key value")

	fk := &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}
	assert.ErrorIs(t, wrapPgError(fk), store.ErrConstraint)

	syntax := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	assert.NotErrorIs(t, wrapPgError(syntax), store.ErrConstraint)
	assert.Same(t, error(syntax), wrapPgError(syntax))

	plain := errors.New("connection reset")
	assert.Same(t, plain, wrapPgError(plain))
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func setupStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	pgtest.Skip(t)
	ctx := context.Background()
	pool := pgtest.ConnectPool(ctx, t)
	st := New(pool, nil)

	// A temporary table would be invisible to the pool's other connections.
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pgstore_test_widgets (
			id serial PRIMARY KEY,
			name text NOT NULL UNIQUE
		)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE pgstore_test_widgets`)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DROP TABLE IF EXISTS pgstore_test_widgets`)
	})
	return st, ctx
}

func TestStoreRoundTrip(t *testing.T) {
	st, ctx := setupStore(t)

	for _, name := range []string{"alpha", "beta"} {
		n, err := st.Exec(ctx, psql.Insert("pgstore_test_widgets").Columns("name").Values(name))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}

	rows, err := st.Select(ctx, psql.Select("id", "name").From("pgstore_test_widgets").OrderBy("id"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0]["name"])

	row, err := st.SelectOne(ctx, psql.Select("name").From("pgstore_test_widgets").Where(sq.Eq{"name": "beta"}))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "beta", row["name"])

	row, err = st.SelectOne(ctx, psql.Select("name").From("pgstore_test_widgets").Where(sq.Eq{"name": "gamma"}))
	require.NoError(t, err)
	assert.Nil(t, row)

	count, err := st.Count(ctx, psql.Select("COUNT(*)").From("pgstore_test_widgets"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStoreConstraint(t *testing.T) {
	st, ctx := setupStore(t)

	_, err := st.Exec(ctx, psql.Insert("pgstore_test_widgets").Columns("name").Values("alpha"))
	require.NoError(t, err)
	_, err = st.Exec(ctx, psql.Insert("pgstore_test_widgets").Columns("name").Values("alpha"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConstraint)
}

func TestStoreInTxRollsBack(t *testing.T) {
	st, ctx := setupStore(t)

	boom := fmt.Errorf("abort")
	err := st.InTx(ctx, func(tx store.Store) error {
		if _, err := tx.Exec(ctx, psql.Insert("pgstore_test_widgets").Columns("name").Values("alpha")); err != nil {
			return err
		}
		// Nested InTx reuses the enclosing transaction.
		return tx.InTx(ctx, func(inner store.Store) error {
			if _, err := inner.Exec(ctx, psql.Insert("pgstore_test_widgets").Columns("name").Values("beta")); err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	count, err := st.Count(ctx, psql.Select("COUNT(*)").From("pgstore_test_widgets"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestStoreInTxCommits(t *testing.T) {
	st, ctx := setupStore(t)

	err := st.InTx(ctx, func(tx store.Store) error {
		_, err := tx.Exec(ctx, psql.Insert("pgstore_test_widgets").Columns("name").Values("alpha"))
		return err
	})
	require.NoError(t, err)

	count, err := st.Count(ctx, psql.Select("COUNT(*)").From("pgstore_test_widgets"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
