package api

import (
	"net/http"

	sq "github.com/Masterminds/squirrel"

	"github.com/restio/restio/pkg/apierr"
	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/hook"
	"github.com/restio/restio/pkg/query"
	"github.com/restio/restio/pkg/schema"
	"github.com/restio/restio/pkg/store"
)

// resolveRelated looks up the URL's collection and relationship.
func (s *Server) resolveRelated(r *http.Request) (*query.Related, string, error) {
	res, err := s.schemas.Resource(r.PathValue("type"))
	if err != nil {
		return nil, "", err
	}
	related, err := query.Resolve(s.schemas, res, r.PathValue("relationship"))
	if err != nil {
		return nil, "", err
	}
	return related, r.PathValue("id"), nil
}

func (s *Server) handleRelatedGet(w http.ResponseWriter, r *http.Request) {
	related, id, err := s.resolveRelated(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rc := s.newRequestContext(r)
	info, err := rc.queryInfo(related.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := query.ValidateInclude(rc.params.Get("include"), related.Target, s.schemas); err != nil {
		s.writeError(w, err)
		return
	}

	srcRow, err := s.store.SelectOne(rc.ctx, related.SourceRow(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if srcRow == nil {
		s.writeError(w, apierr.NotFoundf("no id %s in collection %q", id, related.Source.Type))
		return
	}

	included := document.NewIncludedSet()
	var doc *document.Document

	if related.Rel.Cardinality() == schema.Many {
		countQ, err := query.ComposeFilters(related.Count(id), s.schemas, related.Target, info)
		if err != nil {
			s.writeError(w, err)
			return
		}
		available, err := s.store.Count(rc.ctx, countQ)
		if err != nil {
			s.writeError(w, err)
			return
		}
		fields, err := rc.fetchFields(related.Target, nil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		q, err := query.Compose(related.Select(id, query.Columns(related.Target, fields)),
			s.schemas, related.Target, info)
		if err != nil {
			s.writeError(w, err)
			return
		}
		rows, err := s.store.Select(rc.ctx, q)
		if err != nil {
			s.writeError(w, err)
			return
		}
		data := make([]*document.Resource, 0, len(rows))
		for _, row := range rows {
			obj, err := rc.serializeResource(related.Target, row, nil, included)
			if err != nil {
				s.writeError(w, err)
				return
			}
			data = append(data, obj)
		}
		links := s.paginationLinks("/"+related.Source.Type+"/"+id+"/"+related.Rel.Name, info, available)
		links["self"] = s.selfURL(r)
		doc = &document.Document{
			Data:  data,
			Links: links,
			Meta: document.Meta{"results": document.Meta{
				"available": available,
				"limit":     info.Limit,
				"offset":    info.Offset,
				"returned":  len(data),
			}},
		}
	} else {
		doc = &document.Document{Links: document.Links{"self": s.selfURL(r)}}
		if fk := srcRow[related.Rel.LocalColumn]; fk != nil {
			fields, err := rc.fetchFields(related.Target, nil)
			if err != nil {
				s.writeError(w, err)
				return
			}
			trow, err := s.store.SelectOne(rc.ctx, related.Select(fk, query.Columns(related.Target, fields)))
			if err != nil {
				s.writeError(w, err)
				return
			}
			if trow != nil {
				obj, err := rc.serializeResource(related.Target, trow, nil, included)
				if err != nil {
					s.writeError(w, err)
					return
				}
				doc.Data = obj
			}
		}
	}
	if included.Len() > 0 {
		doc.Included = included.Objects()
	}

	hctx, err := rc.hookContext(related.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err = s.hooks.RunDocument(hook.AfterRelatedGet, hctx, doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRelationshipsGet(w http.ResponseWriter, r *http.Request) {
	related, id, err := s.resolveRelated(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rc := s.newRequestContext(r)
	info, err := rc.queryInfo(related.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}

	srcRow, err := s.store.SelectOne(rc.ctx, related.SourceRow(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if srcRow == nil {
		s.writeError(w, apierr.NotFoundf("no id %s in collection %q", id, related.Source.Type))
		return
	}

	var doc *document.Document
	if related.Rel.Cardinality() == schema.Many {
		countQ, err := query.ComposeFilters(related.Count(id), s.schemas, related.Target, info)
		if err != nil {
			s.writeError(w, err)
			return
		}
		available, err := s.store.Count(rc.ctx, countQ)
		if err != nil {
			s.writeError(w, err)
			return
		}
		q, err := query.Compose(related.Select(id, nil), s.schemas, related.Target, info)
		if err != nil {
			s.writeError(w, err)
			return
		}
		rows, err := s.store.Select(rc.ctx, q)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ids := make([]document.Identifier, 0, len(rows))
		for _, row := range rows {
			ident, err := rc.serializeIdentifier(related.Target, row[related.Target.Key])
			if err != nil {
				s.writeError(w, err)
				return
			}
			ids = append(ids, ident)
		}
		links := s.paginationLinks("/"+related.Source.Type+"/"+id+"/relationships/"+related.Rel.Name, info, available)
		links["self"] = s.selfURL(r)
		doc = &document.Document{
			Data:  ids,
			Links: links,
			Meta: document.Meta{"results": document.Meta{
				"available": available,
				"limit":     info.Limit,
				"offset":    info.Offset,
				"returned":  len(ids),
			}},
		}
	} else {
		doc = &document.Document{Links: document.Links{"self": s.selfURL(r)}}
		if fk := srcRow[related.Rel.LocalColumn]; fk != nil {
			ident, err := rc.serializeIdentifier(related.Target, fk)
			if err != nil {
				s.writeError(w, err)
				return
			}
			doc.Data = ident
		}
	}

	hctx, err := rc.hookContext(related.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err = s.hooks.RunDocument(hook.AfterRelationshipsGet, hctx, doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// checkedKeys verifies every identifier targets the relationship's type and
// returns the referenced keys.
func checkedKeys(related *query.Related, idents []document.Identifier) ([]string, []targetRef, error) {
	keys := make([]string, 0, len(idents))
	refs := make([]targetRef, 0, len(idents))
	for _, ident := range idents {
		if ident.Type != related.Target.Type {
			return nil, nil, apierr.Conflictf("type %q does not match relationship target %q",
				ident.Type, related.Target.Type)
		}
		keys = append(keys, ident.ID)
		refs = append(refs, targetRef{related.Target, ident.ID})
	}
	return keys, refs, nil
}

// execRelationshipWrite verifies the source row and every referenced target
// inside one transaction, then applies the membership statements.
func (s *Server) execRelationshipWrite(rc *requestContext, related *query.Related, id string, refs []targetRef, stmts []sq.Sqlizer) error {
	return s.store.InTx(rc.ctx, func(st store.Store) error {
		if err := ensureExists(rc.ctx, st, related.Source, id); err != nil {
			return err
		}
		for _, ref := range refs {
			if err := ensureExists(rc.ctx, st, ref.res, ref.id); err != nil {
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
}

func (s *Server) handleRelationshipsPost(w http.ResponseWriter, r *http.Request) {
	related, id, err := s.resolveRelated(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if related.Rel.Cardinality() == schema.One {
		s.writeError(w, apierr.NotFoundf("cannot POST to a to-one relationship link"))
		return
	}
	rc := s.newRequestContext(r)
	rd, err := decodeRelationshipBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !rd.ToMany {
		s.writeError(w, apierr.Validationf("relationship %q needs a list of identifiers", related.Rel.Name))
		return
	}

	hctx, err := rc.hookContext(related.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err := s.hooks.RunDocument(hook.BeforeRelationshipsPost, hctx, &document.Document{Data: rd.Many})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if idents, ok := doc.Data.([]document.Identifier); ok {
		rd.Many = idents
	}

	keys, refs, err := checkedKeys(related, rd.Many)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.execRelationshipWrite(rc, related, id, refs, related.Add(id, keys)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, document.MetaDocument{})
}

func (s *Server) handleRelationshipsPatch(w http.ResponseWriter, r *http.Request) {
	related, id, err := s.resolveRelated(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rc := s.newRequestContext(r)
	rd, err := decodeRelationshipBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hctx, err := rc.hookContext(related.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.hooks.RunDocument(hook.BeforeRelationshipsPatch, hctx, &document.Document{Data: rd}); err != nil {
		s.writeError(w, err)
		return
	}

	var refs []targetRef
	var stmts []sq.Sqlizer
	if related.Rel.Cardinality() == schema.One {
		if rd.ToMany {
			s.writeError(w, apierr.Validationf("relationship %q is to-one", related.Rel.Name))
			return
		}
		if rd.One == nil {
			stmts = append(stmts, related.SetParent(id, nil))
		} else {
			if rd.One.Type != related.Target.Type {
				s.writeError(w, apierr.Conflictf("type %q does not match relationship target %q",
					rd.One.Type, related.Target.Type))
				return
			}
			refs = append(refs, targetRef{related.Target, rd.One.ID})
			stmts = append(stmts, related.SetParent(id, rd.One.ID))
		}
	} else {
		if !rd.ToMany {
			s.writeError(w, apierr.Validationf("relationship %q is to-many", related.Rel.Name))
			return
		}
		var keys []string
		keys, refs, err = checkedKeys(related, rd.Many)
		if err != nil {
			s.writeError(w, err)
			return
		}
		stmts = related.Replace(id, keys)
	}

	if err := s.execRelationshipWrite(rc, related, id, refs, stmts); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, document.MetaDocument{})
}

func (s *Server) handleRelationshipsDelete(w http.ResponseWriter, r *http.Request) {
	related, id, err := s.resolveRelated(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if related.Rel.Cardinality() == schema.One {
		s.writeError(w, apierr.NotFoundf("cannot DELETE from a to-one relationship link"))
		return
	}
	rc := s.newRequestContext(r)
	rd, err := decodeRelationshipBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !rd.ToMany {
		s.writeError(w, apierr.Validationf("relationship %q needs a list of identifiers", related.Rel.Name))
		return
	}

	hctx, err := rc.hookContext(related.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.hooks.RunIdentifier(hook.BeforeRelationshipsDelete, hctx,
		document.Identifier{Type: related.Source.Type, ID: id}); err != nil {
		s.writeError(w, err)
		return
	}

	keys, _, err := checkedKeys(related, rd.Many)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Members that are not part of the relationship are ignored, so only the
	// source row's existence is checked.
	if err := s.execRelationshipWrite(rc, related, id, nil, related.Remove(id, keys)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, document.MetaDocument{})
}
