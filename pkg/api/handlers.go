package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/restio/restio/pkg/apierr"
	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/hook"
	"github.com/restio/restio/pkg/query"
	"github.com/restio/restio/pkg/schema"
	"github.com/restio/restio/pkg/store"
)

// selfURL reconstructs the request URL under the configured base.
func (s *Server) selfURL(r *http.Request) string {
	u := s.opts.BaseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// targetRef is a referenced related resource whose existence must be
// verified before a write commits.
type targetRef struct {
	res *schema.Resource
	id  string
}

// ensureExists fails with NotFound when the given row is absent.
func ensureExists(ctx context.Context, st store.Store, res *schema.Resource, id string) error {
	row, err := st.SelectOne(ctx, query.BuildExists(res, id))
	if err != nil {
		return err
	}
	if row == nil {
		return apierr.NotFoundf("%s/%s not found", res.Type, id)
	}
	return nil
}

func (s *Server) handleCollectionGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.schemas.Resource(r.PathValue("type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rc := s.newRequestContext(r)
	info, err := rc.queryInfo(res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := query.ValidateInclude(rc.params.Get("include"), res, s.schemas); err != nil {
		s.writeError(w, err)
		return
	}

	fields, err := rc.fetchFields(res, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q, err := query.BuildSelect(s.schemas, res, info, fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	countQ, err := query.BuildCount(s.schemas, res, info)
	if err != nil {
		s.writeError(w, err)
		return
	}
	available, err := s.store.Count(rc.ctx, countQ)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := s.store.Select(rc.ctx, q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	included := document.NewIncludedSet()
	data := make([]*document.Resource, 0, len(rows))
	for _, row := range rows {
		obj, err := rc.serializeResource(res, row, nil, included)
		if err != nil {
			s.writeError(w, err)
			return
		}
		data = append(data, obj)
	}

	links := s.paginationLinks("/"+res.Type, info, available)
	links["self"] = s.selfURL(r)
	doc := &document.Document{
		Data:  data,
		Links: links,
		Meta: document.Meta{"results": document.Meta{
			"available": available,
			"limit":     info.Limit,
			"offset":    info.Offset,
			"returned":  len(data),
		}},
	}
	if included.Len() > 0 {
		doc.Included = included.Objects()
	}

	hctx, err := rc.hookContext(res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err = s.hooks.RunDocument(hook.AfterCollectionGet, hctx, doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.schemas.Resource(r.PathValue("type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	rc := s.newRequestContext(r)
	if _, err := rc.queryInfo(res); err != nil {
		s.writeError(w, err)
		return
	}
	if err := query.ValidateInclude(rc.params.Get("include"), res, s.schemas); err != nil {
		s.writeError(w, err)
		return
	}

	fields, err := rc.fetchFields(res, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	row, err := s.store.SelectOne(rc.ctx, query.BuildItem(res, fields, id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if row == nil {
		s.writeError(w, apierr.NotFoundf("no id %s in collection %q", id, res.Type))
		return
	}

	included := document.NewIncludedSet()
	obj, err := rc.serializeResource(res, row, nil, included)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc := &document.Document{
		Data:  obj,
		Links: document.Links{"self": s.selfURL(r)},
	}
	if included.Len() > 0 {
		doc.Included = included.Objects()
	}

	hctx, err := rc.hookContext(res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err = s.hooks.RunDocument(hook.AfterGet, hctx, doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCollectionPost(w http.ResponseWriter, r *http.Request) {
	res, err := s.schemas.Resource(r.PathValue("type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rc := s.newRequestContext(r)
	obj, err := decodeResourceBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hctx, err := rc.hookContext(res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	obj, err = s.hooks.RunObject(hook.BeforeCollectionPost, hctx, obj)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if obj.Type != res.Type {
		s.writeError(w, apierr.Conflictf("type %q does not match collection %q", obj.Type, res.Type))
		return
	}
	if obj.ID != "" && !s.opts.AllowClientIDs {
		s.writeError(w, apierr.Forbiddenf("client-generated ids are not accepted"))
		return
	}

	values, err := attributeValues(res, obj.Attributes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if obj.ID != "" {
		values[res.Key] = obj.ID
	}

	var refs []targetRef
	type toManyAdd struct {
		related *query.Related
		keys    []string
	}
	var adds []toManyAdd

	relNames := make([]string, 0, len(obj.Relationships))
	for name := range obj.Relationships {
		relNames = append(relNames, name)
	}
	sort.Strings(relNames)

	for _, name := range relNames {
		block := obj.Relationships[name]
		related, err := query.Resolve(s.schemas, res, name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if block == nil || block.Data == nil {
			s.writeError(w, apierr.Validationf("relationship %q needs a data member", name))
			return
		}
		if related.Rel.Cardinality() == schema.One {
			if block.Data.ToMany {
				s.writeError(w, apierr.Validationf("relationship %q is to-one", name))
				return
			}
			if block.Data.One == nil {
				values[related.Rel.LocalColumn] = nil
				continue
			}
			if block.Data.One.Type != related.Target.Type {
				s.writeError(w, apierr.Conflictf("type %q does not match relationship target %q",
					block.Data.One.Type, related.Target.Type))
				return
			}
			refs = append(refs, targetRef{related.Target, block.Data.One.ID})
			values[related.Rel.LocalColumn] = block.Data.One.ID
			continue
		}
		if !block.Data.ToMany {
			s.writeError(w, apierr.Validationf("relationship %q is to-many", name))
			return
		}
		keys := make([]string, 0, len(block.Data.Many))
		for _, ident := range block.Data.Many {
			if ident.Type != related.Target.Type {
				s.writeError(w, apierr.Conflictf("type %q does not match relationship target %q",
					ident.Type, related.Target.Type))
				return
			}
			refs = append(refs, targetRef{related.Target, ident.ID})
			keys = append(keys, ident.ID)
		}
		adds = append(adds, toManyAdd{related, keys})
	}

	var created store.Row
	err = s.store.InTx(rc.ctx, func(st store.Store) error {
		for _, ref := range refs {
			if err := ensureExists(rc.ctx, st, ref.res, ref.id); err != nil {
				return err
			}
		}
		row, err := st.SelectOne(rc.ctx, query.BuildInsert(res, values))
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("insert into %q returned no row", res.Table)
		}
		created = row
		for _, add := range adds {
			for _, stmt := range add.related.Add(row[res.Key], add.keys) {
				if _, err := st.Exec(rc.ctx, stmt); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	included := document.NewIncludedSet()
	out, err := rc.serializeResource(res, created, nil, included)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", s.link(res.Type, out.ID))
	s.writeJSON(w, http.StatusCreated, &document.Document{
		Data:  out,
		Links: document.Links{"self": s.link(res.Type, out.ID)},
	})
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.schemas.Resource(r.PathValue("type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	rc := s.newRequestContext(r)
	obj, err := decodeResourceBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if obj.Type != res.Type {
		s.writeError(w, apierr.Conflictf("type %q does not match collection %q", obj.Type, res.Type))
		return
	}
	if obj.ID != "" && obj.ID != id {
		s.writeError(w, apierr.Conflictf("id %q does not match URL id %q", obj.ID, id))
		return
	}

	hctx, err := rc.hookContext(res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	obj, err = s.hooks.RunObject(hook.BeforePatch, hctx, obj)
	if err != nil {
		s.writeError(w, err)
		return
	}

	values, err := attributeValues(res, obj.Attributes)
	if err != nil {
		s.writeError(w, err)
		return
	}

	attNames := make([]string, 0, len(obj.Attributes))
	for name := range obj.Attributes {
		attNames = append(attNames, name)
	}
	sort.Strings(attNames)
	relNames := make([]string, 0, len(obj.Relationships))
	for name := range obj.Relationships {
		relNames = append(relNames, name)
	}
	sort.Strings(relNames)

	var refs []targetRef
	var stmts []sq.Sqlizer
	for _, name := range relNames {
		block := obj.Relationships[name]
		related, err := query.Resolve(s.schemas, res, name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if block == nil || block.Data == nil {
			s.writeError(w, apierr.Validationf("relationship %q needs a data member", name))
			return
		}
		if related.Rel.Cardinality() == schema.One {
			if block.Data.ToMany {
				s.writeError(w, apierr.Validationf("relationship %q is to-one", name))
				return
			}
			if block.Data.One == nil {
				values[related.Rel.LocalColumn] = nil
				continue
			}
			if block.Data.One.Type != related.Target.Type {
				s.writeError(w, apierr.Conflictf("type %q does not match relationship target %q",
					block.Data.One.Type, related.Target.Type))
				return
			}
			refs = append(refs, targetRef{related.Target, block.Data.One.ID})
			values[related.Rel.LocalColumn] = block.Data.One.ID
			continue
		}
		if !block.Data.ToMany {
			s.writeError(w, apierr.Validationf("relationship %q is to-many", name))
			return
		}
		keys := make([]string, 0, len(block.Data.Many))
		for _, ident := range block.Data.Many {
			if ident.Type != related.Target.Type {
				s.writeError(w, apierr.Conflictf("type %q does not match relationship target %q",
					ident.Type, related.Target.Type))
				return
			}
			refs = append(refs, targetRef{related.Target, ident.ID})
			keys = append(keys, ident.ID)
		}
		stmts = append(stmts, related.Replace(id, keys)...)
	}

	err = s.store.InTx(rc.ctx, func(st store.Store) error {
		row, err := st.SelectOne(rc.ctx, query.BuildExists(res, id))
		if err != nil {
			return err
		}
		if row == nil {
			return apierr.NotFoundf("cannot PATCH a non existent resource (%s/%s)", res.Type, id)
		}
		for _, ref := range refs {
			if err := ensureExists(rc.ctx, st, ref.res, ref.id); err != nil {
				return err
			}
		}
		if len(values) > 0 {
			if _, err := st.Exec(rc.ctx, query.BuildUpdate(res, id, values)); err != nil {
				return err
			}
		}
		for _, stmt := range stmts {
			if _, err := st.Exec(rc.ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, document.MetaDocument{
		Meta: document.Meta{"updated": document.Meta{
			"attributes":    attNames,
			"relationships": relNames,
		}},
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	res, err := s.schemas.Resource(r.PathValue("type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	rc := s.newRequestContext(r)

	row, err := s.store.SelectOne(rc.ctx, query.BuildExists(res, id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if row == nil {
		// Deleting what is already gone is not an error.
		s.writeJSON(w, http.StatusOK, &document.Document{Data: nil})
		return
	}

	hctx, err := rc.hookContext(res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ident, err := s.hooks.RunIdentifier(hook.BeforeDelete, hctx, document.Identifier{Type: res.Type, ID: id})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.store.Exec(rc.ctx, query.BuildDelete(res, id)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &document.Document{Data: ident})
}
