// Package schema describes API resources: the key field, attributes and
// relationships of each exposed type. Schemas are built once at startup,
// either declared by hand or introspected from PostgreSQL metadata, and are
// immutable afterwards; the request pipeline only reads them.
package schema

import (
	"fmt"
	"sort"

	"github.com/restio/restio/pkg/apierr"
)

// Kind is the join shape of a relationship.
type Kind int

const (
	OneToMany Kind = iota
	ManyToMany
	ManyToOne
)

func (k Kind) String() string {
	switch k {
	case OneToMany:
		return "ONETOMANY"
	case ManyToMany:
		return "MANYTOMANY"
	case ManyToOne:
		return "MANYTOONE"
	default:
		return "UNKNOWN"
	}
}

// Cardinality is the one/many classification of a relationship.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

// Cardinality returns One for many-to-one joins and Many otherwise.
func (k Kind) Cardinality() Cardinality {
	if k == ManyToOne {
		return One
	}
	return Many
}

// Attribute describes a single exposed attribute and its backing column.
type Attribute struct {
	Column string
	Type   string // semantic type, e.g. "text", "integer", "timestamp"
}

// Relationship describes a named relationship to a target resource type.
// The columns populated depend on Kind:
//
//   - OneToMany: RemoteColumn is the foreign-key column on the target table
//     holding the source key.
//   - ManyToOne: LocalColumn is the foreign-key column on the source table
//     holding the target key.
//   - ManyToMany: JoinTable holds JoinSourceColumn (source key) and
//     JoinTargetColumn (target key).
type Relationship struct {
	Name             string
	Target           string
	Kind             Kind
	LocalColumn      string
	RemoteColumn     string
	JoinTable        string
	JoinSourceColumn string
	JoinTargetColumn string
}

// Cardinality returns the relationship's one/many classification.
func (r *Relationship) Cardinality() Cardinality { return r.Kind.Cardinality() }

// Resource is the static description of one exposed resource type.
type Resource struct {
	Type          string // collection name, also the URL segment
	Table         string // backing relation
	Key           string // key column
	Attributes    map[string]Attribute
	Relationships map[string]Relationship
}

// Relationship looks up a declared relationship by name.
func (r *Resource) Relationship(name string) (*Relationship, error) {
	rel, ok := r.Relationships[name]
	if !ok {
		return nil, apierr.NotFoundf("no such relationship %q in collection %q", name, r.Type)
	}
	return &rel, nil
}

// Fields returns the full field-name set: attribute names plus relationship
// names. This is the sparse-fieldset default when no fields[<type>]
// parameter is present.
func (r *Resource) Fields() map[string]struct{} {
	fields := make(map[string]struct{}, len(r.Attributes)+len(r.Relationships))
	for name := range r.Attributes {
		fields[name] = struct{}{}
	}
	for name := range r.Relationships {
		fields[name] = struct{}{}
	}
	return fields
}

// HasField reports whether name is a declared attribute or relationship.
func (r *Resource) HasField(name string) bool {
	if _, ok := r.Attributes[name]; ok {
		return true
	}
	_, ok := r.Relationships[name]
	return ok
}

// Registry holds all resource schemas, keyed by type name.
type Registry struct {
	resources map[string]*Resource
}

// NewRegistry validates the given resources and returns an immutable
// registry. Every relationship must reference a registered target type and
// carry the columns its kind requires.
func NewRegistry(resources ...*Resource) (*Registry, error) {
	reg := &Registry{resources: make(map[string]*Resource, len(resources))}
	for _, res := range resources {
		if res.Type == "" || res.Key == "" {
			return nil, fmt.Errorf("resource %q: type and key are required", res.Type)
		}
		if res.Table == "" {
			res.Table = res.Type
		}
		if _, ok := reg.resources[res.Type]; ok {
			return nil, fmt.Errorf("duplicate resource type %q", res.Type)
		}
		reg.resources[res.Type] = res
	}
	for _, res := range reg.resources {
		for name, rel := range res.Relationships {
			if _, ok := reg.resources[rel.Target]; !ok {
				return nil, fmt.Errorf("resource %q: relationship %q references unknown type %q",
					res.Type, name, rel.Target)
			}
			switch rel.Kind {
			case OneToMany:
				if rel.RemoteColumn == "" {
					return nil, fmt.Errorf("resource %q: one-to-many relationship %q needs a remote column", res.Type, name)
				}
			case ManyToOne:
				if rel.LocalColumn == "" {
					return nil, fmt.Errorf("resource %q: many-to-one relationship %q needs a local column", res.Type, name)
				}
			case ManyToMany:
				if rel.JoinTable == "" || rel.JoinSourceColumn == "" || rel.JoinTargetColumn == "" {
					return nil, fmt.Errorf("resource %q: many-to-many relationship %q needs a join table and columns", res.Type, name)
				}
			}
		}
	}
	return reg, nil
}

// Resource looks up a resource schema by type name.
func (g *Registry) Resource(typ string) (*Resource, error) {
	res, ok := g.resources[typ]
	if !ok {
		return nil, apierr.NotFoundf("no such collection %q", typ)
	}
	return res, nil
}

// Types returns all registered type names, sorted.
func (g *Registry) Types() []string {
	types := make([]string, 0, len(g.resources))
	for typ := range g.resources {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
