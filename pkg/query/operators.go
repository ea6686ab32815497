package query

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/restio/restio/pkg/apierr"
)

// wildcard is the backing store's LIKE wildcard. The like and ilike
// operators rewrite client-side '*' to it.
const wildcard = "%"

var operators = map[string]struct{}{
	"eq": {}, "ne": {}, "lt": {}, "gt": {}, "le": {}, "ge": {},
	"startswith": {}, "endswith": {}, "contains": {}, "like": {}, "ilike": {},
}

// ValidOperator reports whether op is a supported filter operator.
func ValidOperator(op string) bool {
	_, ok := operators[op]
	return ok
}

// predicate builds the SQL predicate for one filter operator applied to a
// (qualified) column.
func predicate(column, op, value string) (sq.Sqlizer, error) {
	switch op {
	case "eq":
		return sq.Eq{column: value}, nil
	case "ne":
		return sq.NotEq{column: value}, nil
	case "lt":
		return sq.Lt{column: value}, nil
	case "gt":
		return sq.Gt{column: value}, nil
	case "le":
		return sq.LtOrEq{column: value}, nil
	case "ge":
		return sq.GtOrEq{column: value}, nil
	case "startswith":
		return sq.Like{column: value + wildcard}, nil
	case "endswith":
		return sq.Like{column: wildcard + value}, nil
	case "contains":
		return sq.Like{column: wildcard + value + wildcard}, nil
	case "like":
		return sq.Like{column: strings.ReplaceAll(value, "*", wildcard)}, nil
	case "ilike":
		return sq.ILike{column: strings.ReplaceAll(value, "*", wildcard)}, nil
	default:
		return nil, apierr.Validationf("unknown filter operator %q", op)
	}
}
