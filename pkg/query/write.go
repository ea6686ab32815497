package query

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/restio/restio/pkg/schema"
)

// BuildInsert returns the insert statement for a new resource row,
// returning the stored row so server-generated columns come back. An empty
// value map inserts a row of column defaults.
func BuildInsert(res *schema.Resource, values map[string]any) sq.InsertBuilder {
	if len(values) == 0 {
		return psql.Insert(res.Table).
			Columns(res.Key).
			Values(sq.Expr("DEFAULT")).
			Suffix("RETURNING *")
	}
	return psql.Insert(res.Table).SetMap(values).Suffix("RETURNING *")
}

// BuildUpdate returns the update statement for the row with the given key.
func BuildUpdate(res *schema.Resource, id any, values map[string]any) sq.UpdateBuilder {
	return psql.Update(res.Table).SetMap(values).Where(sq.Eq{res.Key: id})
}

// BuildDelete returns the delete statement for the row with the given key.
func BuildDelete(res *schema.Resource, id any) sq.DeleteBuilder {
	return psql.Delete(res.Table).Where(sq.Eq{res.Key: id})
}

// BuildExists returns a key-only select for an existence check.
func BuildExists(res *schema.Resource, id any) sq.SelectBuilder {
	return psql.Select(res.Table + "." + res.Key).From(res.Table).Where(sq.Eq{res.Table + "." + res.Key: id})
}
