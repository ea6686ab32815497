package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/restio/restio/pkg/hook"
	"github.com/restio/restio/pkg/httputil"
	"github.com/restio/restio/pkg/query"
	"github.com/restio/restio/pkg/schema"
)

// requestContext carries per-request state: parsed parameters, the caller's
// identity, and memoized query info and allowed-field sets per type. Nothing
// here outlives the request, so schema or policy changes between requests
// never leak stale decisions.
type requestContext struct {
	ctx       context.Context
	srv       *Server
	params    url.Values
	principal any

	infos   map[string]*query.Info
	allowed map[string]map[string]struct{}
}

func (s *Server) newRequestContext(r *http.Request) *requestContext {
	return &requestContext{
		ctx:       r.Context(),
		srv:       s,
		params:    r.URL.Query(),
		principal: r.Context().Value(httputil.OIDCUserCtxKey),
		infos:     make(map[string]*query.Info),
		allowed:   make(map[string]map[string]struct{}),
	}
}

// queryInfo returns the parsed query description for a type, computing it at
// most once per request.
func (rc *requestContext) queryInfo(res *schema.Resource) (*query.Info, error) {
	if info, ok := rc.infos[res.Type]; ok {
		return info, nil
	}
	info, err := query.Parse(rc.params, res, rc.srv.opts.Limits)
	if err != nil {
		return nil, err
	}
	rc.infos[res.Type] = info
	return info, nil
}

// allowedFields returns the caller's allowed field set for a type, asking
// the access policy at most once per request.
func (rc *requestContext) allowedFields(res *schema.Resource) map[string]struct{} {
	if fields, ok := rc.allowed[res.Type]; ok {
		return fields
	}
	fields := rc.srv.policy.AllowedFields(&hook.Context{
		Context:   rc.ctx,
		Resource:  res,
		Principal: rc.principal,
	}, res)
	rc.allowed[res.Type] = fields
	return fields
}

// hookContext builds the context passed into hooks for a type.
func (rc *requestContext) hookContext(res *schema.Resource) (*hook.Context, error) {
	info, err := rc.queryInfo(res)
	if err != nil {
		return nil, err
	}
	return &hook.Context{
		Context:   rc.ctx,
		Resource:  res,
		Requested: info.RequestedFields(res),
		Allowed:   rc.allowedFields(res),
		Principal: rc.principal,
	}, nil
}

// fetchFields returns the field set driving a type's row projection: the
// requested fields the caller may see, plus any many-to-one relationship
// whose include path hangs off the given path, since serializing an included
// to-one target needs the stored foreign key even when the relationship is
// not a requested field.
func (rc *requestContext) fetchFields(res *schema.Resource, path []string) (map[string]struct{}, error) {
	info, err := rc.queryInfo(res)
	if err != nil {
		return nil, err
	}
	allowed := rc.allowedFields(res)

	fields := make(map[string]struct{})
	for name := range info.RequestedFields(res) {
		if _, ok := allowed[name]; ok {
			fields[name] = struct{}{}
		}
	}
	for name, rel := range res.Relationships {
		if rel.Kind != schema.ManyToOne {
			continue
		}
		if info.Included(childPath(path, name)) {
			fields[name] = struct{}{}
		}
	}
	return fields, nil
}

// childPath appends a segment without sharing the parent's backing array.
func childPath(path []string, name string) []string {
	child := make([]string, 0, len(path)+1)
	child = append(child, path...)
	return append(child, name)
}
