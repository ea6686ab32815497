package api

import (
	"fmt"
	"sort"

	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/hook"
	"github.com/restio/restio/pkg/query"
	"github.com/restio/restio/pkg/schema"
	"github.com/restio/restio/pkg/store"
)

// idString renders a key value the way it appears in URLs and identifiers.
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// serializeIdentifier builds a {type, id} reference and runs the identifier
// hooks over it.
func (rc *requestContext) serializeIdentifier(res *schema.Resource, id any) (document.Identifier, error) {
	hctx, err := rc.hookContext(res)
	if err != nil {
		return document.Identifier{}, err
	}
	ident := document.Identifier{Type: res.Type, ID: idString(id)}
	return rc.srv.hooks.RunIdentifier(hook.AfterSerializeIdentifier, hctx, ident)
}

// serializeResource turns one fetched row into a resource object.
//
// Attributes are restricted to the requested fields the caller may see. A
// relationship block is built when the relationship is a requested field or
// lies on an include path, but only requested relationships are retained in
// the output; a block built solely for an include path feeds the recursion
// and is then discarded. To-many blocks carry identifier data plus
// availability meta, to-one blocks are populated from the stored foreign key
// without touching the store unless the target is included. Included target
// objects are serialized recursively with the extended path and inserted
// into the compound-document set, where the first insertion of an identity
// wins.
func (rc *requestContext) serializeResource(res *schema.Resource, row store.Row, path []string, included *document.IncludedSet) (*document.Resource, error) {
	info, err := rc.queryInfo(res)
	if err != nil {
		return nil, err
	}
	allowed := rc.allowedFields(res)
	requested := info.RequestedFields(res)

	idVal, ok := row[res.Key]
	if !ok {
		return nil, fmt.Errorf("row for %q is missing key column %q", res.Type, res.Key)
	}
	obj := &document.Resource{
		Type:       res.Type,
		ID:         idString(idVal),
		Attributes: make(map[string]any),
		Links:      document.Links{"self": rc.srv.link(res.Type, idString(idVal))},
	}

	for name, att := range res.Attributes {
		if _, ok := requested[name]; !ok {
			continue
		}
		if _, ok := allowed[name]; !ok {
			continue
		}
		if v, ok := row[att.Column]; ok {
			obj.Attributes[name] = v
		}
	}

	relNames := make([]string, 0, len(res.Relationships))
	for name := range res.Relationships {
		relNames = append(relNames, name)
	}
	sort.Strings(relNames)

	for _, name := range relNames {
		isIncluded := info.Included(childPath(path, name))
		_, isRequested := requested[name]
		if !isRequested && !isIncluded {
			continue
		}
		block, err := rc.serializeRelationship(res, row, name, path, isIncluded, included)
		if err != nil {
			return nil, err
		}
		if !isRequested {
			continue
		}
		if obj.Relationships == nil {
			obj.Relationships = make(map[string]*document.Relationship)
		}
		obj.Relationships[name] = block
	}

	hctx, err := rc.hookContext(res)
	if err != nil {
		return nil, err
	}
	return rc.srv.hooks.RunObject(hook.AfterSerializeObject, hctx, obj)
}

func (rc *requestContext) serializeRelationship(res *schema.Resource, row store.Row, name string, path []string, isIncluded bool, included *document.IncludedSet) (*document.Relationship, error) {
	related, err := query.Resolve(rc.srv.schemas, res, name)
	if err != nil {
		return nil, err
	}
	id := idString(row[res.Key])
	block := &document.Relationship{
		Links: document.Links{
			"self":    rc.srv.link(res.Type, id, "relationships", name),
			"related": rc.srv.link(res.Type, id, name),
		},
		Meta: document.Meta{"direction": related.Rel.Kind.String()},
	}

	if related.Rel.Cardinality() == schema.Many {
		return block, rc.serializeToMany(block, related, row[res.Key], path, name, isIncluded, included)
	}
	return block, rc.serializeToOne(block, related, row, path, name, isIncluded, included)
}

func (rc *requestContext) serializeToMany(block *document.Relationship, related *query.Related, key any, path []string, name string, isIncluded bool, included *document.IncludedSet) error {
	info, err := rc.queryInfo(related.Source)
	if err != nil {
		return err
	}
	available, err := rc.srv.store.Count(rc.ctx, related.Count(key))
	if err != nil {
		return err
	}
	limit := info.RelatedLimit(name, rc.srv.opts.Limits)

	var columns []string
	if isIncluded {
		fields, err := rc.fetchFields(related.Target, childPath(path, name))
		if err != nil {
			return err
		}
		columns = query.Columns(related.Target, fields)
	}
	q := related.Select(key, columns)
	if limit >= 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := rc.srv.store.Select(rc.ctx, q)
	if err != nil {
		return err
	}

	ids := make([]document.Identifier, 0, len(rows))
	for _, row := range rows {
		if isIncluded {
			child, err := rc.serializeResource(related.Target, row, childPath(path, name), included)
			if err != nil {
				return err
			}
			included.Insert(child)
		}
		ident, err := rc.serializeIdentifier(related.Target, row[related.Target.Key])
		if err != nil {
			return err
		}
		ids = append(ids, ident)
	}

	block.Meta["results"] = document.Meta{
		"available": available,
		"limit":     limit,
		"returned":  len(ids),
	}
	block.Data = document.ToMany(ids)
	return nil
}

// serializeToOne fills a many-to-one block. The identifier comes from the
// row's stored foreign key; the target row is only fetched when the
// relationship is included.
func (rc *requestContext) serializeToOne(block *document.Relationship, related *query.Related, row store.Row, path []string, name string, isIncluded bool, included *document.IncludedSet) error {
	fk, ok := row[related.Rel.LocalColumn]
	if !ok || fk == nil {
		block.Data = document.ToOne(nil)
		return nil
	}

	if !isIncluded {
		ident, err := rc.serializeIdentifier(related.Target, fk)
		if err != nil {
			return err
		}
		block.Data = document.ToOne(&ident)
		return nil
	}

	fields, err := rc.fetchFields(related.Target, childPath(path, name))
	if err != nil {
		return err
	}
	trow, err := rc.srv.store.SelectOne(rc.ctx, related.Select(fk, query.Columns(related.Target, fields)))
	if err != nil {
		return err
	}
	if trow == nil {
		// Dangling foreign key; serialize as empty rather than failing.
		block.Data = document.ToOne(nil)
		return nil
	}
	child, err := rc.serializeResource(related.Target, trow, childPath(path, name), included)
	if err != nil {
		return err
	}
	included.Insert(child)
	ident := child.Identifier()
	block.Data = document.ToOne(&ident)
	return nil
}
