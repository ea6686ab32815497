package query

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/restio/restio/pkg/schema"
)

// Related is a resolved relationship: the source and target schemas plus
// the declared join shape. It yields the query fragments that select, count
// and mutate related rows for a given source key value.
type Related struct {
	Source *schema.Resource
	Rel    *schema.Relationship
	Target *schema.Resource
}

// Resolve looks up a relationship by name on res and resolves its target
// schema. An unknown name yields a NotFound error.
func Resolve(reg *schema.Registry, res *schema.Resource, name string) (*Related, error) {
	rel, err := res.Relationship(name)
	if err != nil {
		return nil, err
	}
	target, err := reg.Resource(rel.Target)
	if err != nil {
		return nil, err
	}
	return &Related{Source: res, Rel: rel, Target: target}, nil
}

// Select returns a query for target rows related to the given source key.
// For a many-to-one relationship key is the source row's stored foreign-key
// value; for the other shapes it is the source row's key. columns defaults
// to the target's key column.
func (r *Related) Select(key any, columns []string) sq.SelectBuilder {
	if len(columns) == 0 {
		columns = []string{r.Target.Table + "." + r.Target.Key}
	}
	q := psql.Select(columns...).From(r.Target.Table)
	return r.constrain(q, key)
}

// Count returns the matching unlimited count query.
func (r *Related) Count(key any) sq.SelectBuilder {
	q := psql.Select("COUNT(*)").From(r.Target.Table)
	return r.constrain(q, key)
}

func (r *Related) constrain(q sq.SelectBuilder, key any) sq.SelectBuilder {
	t := r.Target
	switch r.Rel.Kind {
	case schema.OneToMany:
		// Target rows whose foreign key equals the source key.
		return q.Where(sq.Eq{t.Table + "." + r.Rel.RemoteColumn: key})
	case schema.ManyToMany:
		// Target rows joined through the association relation.
		return q.
			Join(r.Rel.JoinTable + " ON " + r.Rel.JoinTable + "." + r.Rel.JoinTargetColumn + " = " + t.Table + "." + t.Key).
			Where(sq.Eq{r.Rel.JoinTable + "." + r.Rel.JoinSourceColumn: key})
	case schema.ManyToOne:
		// The single target row whose key equals the stored foreign key.
		return q.Where(sq.Eq{t.Table + "." + t.Key: key})
	default:
		return q
	}
}

// SourceRow selects the source row's key, plus the stored foreign key when
// the relationship is many-to-one. Used for existence checks before
// relationship reads and writes.
func (r *Related) SourceRow(id any) sq.SelectBuilder {
	cols := []string{r.Source.Table + "." + r.Source.Key}
	if r.Rel.Kind == schema.ManyToOne {
		cols = append(cols, r.Source.Table+"."+r.Rel.LocalColumn)
	}
	return psql.Select(cols...).
		From(r.Source.Table).
		Where(sq.Eq{r.Source.Table + "." + r.Source.Key: id})
}

// SetParent returns the statement repointing a many-to-one relationship's
// local foreign key at targetKey (nil clears it).
func (r *Related) SetParent(sourceKey, targetKey any) sq.UpdateBuilder {
	return psql.Update(r.Source.Table).
		Set(r.Rel.LocalColumn, targetKey).
		Where(sq.Eq{r.Source.Table + "." + r.Source.Key: sourceKey})
}

// Add returns the statements adding the given target keys to a to-many
// relationship.
func (r *Related) Add(sourceKey any, targetKeys []string) []sq.Sqlizer {
	if len(targetKeys) == 0 {
		return nil
	}
	switch r.Rel.Kind {
	case schema.OneToMany:
		return []sq.Sqlizer{
			psql.Update(r.Target.Table).
				Set(r.Rel.RemoteColumn, sourceKey).
				Where(sq.Eq{r.Target.Key: targetKeys}),
		}
	case schema.ManyToMany:
		ins := psql.Insert(r.Rel.JoinTable).Columns(r.Rel.JoinSourceColumn, r.Rel.JoinTargetColumn)
		for _, key := range targetKeys {
			ins = ins.Values(sourceKey, key)
		}
		return []sq.Sqlizer{ins}
	default:
		return nil
	}
}

// Replace returns the statements replacing a to-many relationship's
// membership with exactly the given target keys.
func (r *Related) Replace(sourceKey any, targetKeys []string) []sq.Sqlizer {
	var stmts []sq.Sqlizer
	switch r.Rel.Kind {
	case schema.OneToMany:
		stmts = append(stmts, psql.Update(r.Target.Table).
			Set(r.Rel.RemoteColumn, nil).
			Where(sq.Eq{r.Rel.RemoteColumn: sourceKey}))
	case schema.ManyToMany:
		stmts = append(stmts, psql.Delete(r.Rel.JoinTable).
			Where(sq.Eq{r.Rel.JoinSourceColumn: sourceKey}))
	default:
		return nil
	}
	return append(stmts, r.Add(sourceKey, targetKeys)...)
}

// Remove returns the statements removing the given target keys from a
// to-many relationship. Keys that are not members are ignored.
func (r *Related) Remove(sourceKey any, targetKeys []string) []sq.Sqlizer {
	if len(targetKeys) == 0 {
		return nil
	}
	switch r.Rel.Kind {
	case schema.OneToMany:
		return []sq.Sqlizer{
			psql.Update(r.Target.Table).
				Set(r.Rel.RemoteColumn, nil).
				Where(sq.Eq{r.Target.Key: targetKeys}).
				Where(sq.Eq{r.Rel.RemoteColumn: sourceKey}),
		}
	case schema.ManyToMany:
		return []sq.Sqlizer{
			psql.Delete(r.Rel.JoinTable).
				Where(sq.Eq{r.Rel.JoinSourceColumn: sourceKey}).
				Where(sq.Eq{r.Rel.JoinTargetColumn: targetKeys}),
		}
	default:
		return nil
	}
}
