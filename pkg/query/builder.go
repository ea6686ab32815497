package query

import (
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/restio/restio/pkg/apierr"
	"github.com/restio/restio/pkg/schema"
)

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Columns returns the projection for a resource restricted to the given
// field set: the key column, the backing column of every selected attribute,
// and the local foreign-key column of every selected many-to-one
// relationship. Columns are qualified and returned in deterministic order.
func Columns(res *schema.Resource, fields map[string]struct{}) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := map[string]struct{}{res.Key: {}}
	cols := []string{res.Table + "." + res.Key}
	for _, name := range names {
		var col string
		if att, ok := res.Attributes[name]; ok {
			col = att.Column
		} else if rel, ok := res.Relationships[name]; ok && rel.Kind == schema.ManyToOne {
			col = rel.LocalColumn
		} else {
			continue
		}
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		cols = append(cols, res.Table+"."+col)
	}
	return cols
}

// BuildSelect composes the executable query for one collection fetch:
// projection, filters, sort and pagination, in that order.
func BuildSelect(reg *schema.Registry, res *schema.Resource, info *Info, fields map[string]struct{}) (sq.SelectBuilder, error) {
	q := psql.Select(Columns(res, fields)...).From(res.Table)
	return Compose(q, reg, res, info)
}

// BuildItem returns the projection query for a single row by key. Filters,
// sort and pagination never apply to a keyed fetch.
func BuildItem(res *schema.Resource, fields map[string]struct{}, id any) sq.SelectBuilder {
	return psql.Select(Columns(res, fields)...).
		From(res.Table).
		Where(sq.Eq{res.Table + "." + res.Key: id})
}

// BuildCount composes the matching count query: filters only, no sort and
// no pagination, so it reports total matches.
func BuildCount(reg *schema.Registry, res *schema.Resource, info *Info) (sq.SelectBuilder, error) {
	q := psql.Select("COUNT(*)").From(res.Table)
	return ComposeFilters(q, reg, res, info)
}

// Compose applies filters, sort and pagination from info to q. A dotted
// filter or sort key referencing a relationship implicitly joins that
// relationship's target before the predicate or ordering is applied.
func Compose(q sq.SelectBuilder, reg *schema.Registry, res *schema.Resource, info *Info) (sq.SelectBuilder, error) {
	c := newComposer(reg, res)
	q, err := c.filters(q, info)
	if err != nil {
		return q, err
	}
	q, err = c.sort(q, info)
	if err != nil {
		return q, err
	}
	return ComposePage(q, info), nil
}

// ComposeFilters applies only the filter predicates from info to q.
func ComposeFilters(q sq.SelectBuilder, reg *schema.Registry, res *schema.Resource, info *Info) (sq.SelectBuilder, error) {
	return newComposer(reg, res).filters(q, info)
}

// ComposePage applies offset and limit. Parse rejects negative values, so
// both are applied as given.
func ComposePage(q sq.SelectBuilder, info *Info) sq.SelectBuilder {
	if info.Offset > 0 {
		q = q.Offset(uint64(info.Offset))
	}
	if info.Limit >= 0 {
		q = q.Limit(uint64(info.Limit))
	}
	return q
}

// composer tracks relationship joins added to one query so that a
// relationship referenced by both a filter and a sort key is joined once.
type composer struct {
	reg    *schema.Registry
	res    *schema.Resource
	joined map[string]struct{}
}

func newComposer(reg *schema.Registry, res *schema.Resource) *composer {
	return &composer{reg: reg, res: res, joined: make(map[string]struct{})}
}

// filters AND-combines every filter predicate, in parameter-name order.
func (c *composer) filters(q sq.SelectBuilder, info *Info) (sq.SelectBuilder, error) {
	names := make([]string, 0, len(info.Filters))
	for name := range info.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := info.Filters[name]
		var err error
		var col string
		q, col, err = c.column(q, f.Colspec)
		if err != nil {
			return q, err
		}
		pred, err := predicate(col, f.Op, f.Value)
		if err != nil {
			return q, err
		}
		q = q.Where(pred)
	}
	return q, nil
}

func (c *composer) sort(q sq.SelectBuilder, info *Info) (sq.SelectBuilder, error) {
	for _, key := range info.Sort {
		var err error
		var col string
		q, col, err = c.column(q, key.Path)
		if err != nil {
			return q, err
		}
		dir := " ASC"
		if !key.Ascending {
			dir = " DESC"
		}
		q = q.OrderBy(col + dir)
	}
	return q, nil
}

// column resolves a dotted column path to a qualified column, joining the
// named relationship's target when the first segment is a relationship. The
// default target column is its key field.
func (c *composer) column(q sq.SelectBuilder, path []string) (sq.SelectBuilder, string, error) {
	if len(path) > 2 {
		return q, "", apierr.Validationf("column path %q nests too deeply", strings.Join(path, "."))
	}
	name := path[0]

	if rel, ok := c.res.Relationships[name]; ok {
		target, err := c.reg.Resource(rel.Target)
		if err != nil {
			return q, "", err
		}
		q = c.join(q, &rel, target)
		colName := target.Key
		if len(path) == 2 {
			colName = path[1]
		}
		col, err := resolveLocal(target, colName)
		if err != nil {
			return q, "", err
		}
		return q, col, nil
	}

	if len(path) == 2 {
		return q, "", apierr.Validationf("%q is not a relationship of %q", name, c.res.Type)
	}
	col, err := resolveLocal(c.res, name)
	return q, col, err
}

// resolveLocal maps an attribute name (or the key field, addressable as
// "id" or by its column name) to a qualified column on res.
func resolveLocal(res *schema.Resource, name string) (string, error) {
	if name == "id" || name == res.Key {
		return res.Table + "." + res.Key, nil
	}
	if att, ok := res.Attributes[name]; ok {
		return res.Table + "." + att.Column, nil
	}
	return "", apierr.Validationf("no such field %q in collection %q", name, res.Type)
}

func (c *composer) join(q sq.SelectBuilder, rel *schema.Relationship, target *schema.Resource) sq.SelectBuilder {
	if _, ok := c.joined[rel.Name]; ok {
		return q
	}
	c.joined[rel.Name] = struct{}{}

	src := c.res
	switch rel.Kind {
	case schema.ManyToOne:
		return q.Join(target.Table + " ON " + src.Table + "." + rel.LocalColumn + " = " + target.Table + "." + target.Key)
	case schema.OneToMany:
		return q.Join(target.Table + " ON " + target.Table + "." + rel.RemoteColumn + " = " + src.Table + "." + src.Key)
	case schema.ManyToMany:
		return q.
			Join(rel.JoinTable + " ON " + rel.JoinTable + "." + rel.JoinSourceColumn + " = " + src.Table + "." + src.Key).
			Join(target.Table + " ON " + target.Table + "." + target.Key + " = " + rel.JoinTable + "." + rel.JoinTargetColumn)
	default:
		return q
	}
}
