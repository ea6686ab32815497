// Package api exposes declared resources over a JSON:API-style HTTP
// surface: collection and item fetches with sparse fieldsets, compound
// documents, pagination, filtering and sorting, plus create, update,
// delete and relationship manipulation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/restio/restio/pkg/apierr"
	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/hook"
	"github.com/restio/restio/pkg/httputil"
	"github.com/restio/restio/pkg/query"
	"github.com/restio/restio/pkg/schema"
	"github.com/restio/restio/pkg/store"
)

// MediaType is the JSON:API media type.
const MediaType = "application/vnd.api+json"

// Options configures a Server.
type Options struct {
	// BaseURL prefixes every generated link, e.g. "http://localhost:8080/api".
	BaseURL string
	// Limits bounds collection and relationship paging.
	Limits query.Limits
	// AllowClientIDs permits client-generated ids on POST.
	AllowClientIDs bool
}

// Server handles API requests for one resource registry.
type Server struct {
	store   store.Store
	schemas *schema.Registry
	hooks   *hook.Registry
	policy  hook.AccessPolicy
	opts    Options
	logger  *zap.Logger
}

// New returns a Server. A nil hooks registry means no hooks; a nil policy
// allows everything.
func New(st store.Store, schemas *schema.Registry, hooks *hook.Registry, policy hook.AccessPolicy, opts Options, logger *zap.Logger) *Server {
	if hooks == nil {
		hooks = hook.NewRegistry()
	}
	if policy == nil {
		policy = hook.AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Limits.Default <= 0 {
		opts.Limits.Default = 10
	}
	if opts.Limits.Max <= 0 {
		opts.Limits.Max = 100
	}
	return &Server{store: st, schemas: schemas, hooks: hooks, policy: policy, opts: opts, logger: logger}
}

// Mount registers the API routes on the router.
func (s *Server) Mount(r *httputil.Router) {
	r.Handle("GET /{$}", http.HandlerFunc(s.handleRoot))
	r.Handle("GET /{type}", http.HandlerFunc(s.handleCollectionGet))
	r.Handle("POST /{type}", http.HandlerFunc(s.handleCollectionPost))
	r.Handle("GET /{type}/{id}", http.HandlerFunc(s.handleGet))
	r.Handle("PATCH /{type}/{id}", http.HandlerFunc(s.handlePatch))
	r.Handle("DELETE /{type}/{id}", http.HandlerFunc(s.handleDelete))
	r.Handle("GET /{type}/{id}/{relationship}", http.HandlerFunc(s.handleRelatedGet))
	r.Handle("GET /{type}/{id}/relationships/{relationship}", http.HandlerFunc(s.handleRelationshipsGet))
	r.Handle("POST /{type}/{id}/relationships/{relationship}", http.HandlerFunc(s.handleRelationshipsPost))
	r.Handle("PATCH /{type}/{id}/relationships/{relationship}", http.HandlerFunc(s.handleRelationshipsPatch))
	r.Handle("DELETE /{type}/{id}/relationships/{relationship}", http.HandlerFunc(s.handleRelationshipsDelete))
}

// Handler returns a standalone handler with content negotiation applied,
// for embedding and for tests.
func (s *Server) Handler() http.Handler {
	r := httputil.NewRouter()
	r.Use(Negotiate)
	s.Mount(r)
	return r.Handler()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, document.MetaDocument{
		Meta: document.Meta{"collections": s.schemas.Types()},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

// writeError maps an error onto the error-document shape. Unclassified
// errors become opaque 500s; their detail is logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if e, ok := apierr.As(err); ok {
		status := e.Status()
		s.writeJSON(w, status, document.ErrorDocument{Errors: []document.Error{{
			Code:   strconv.Itoa(status),
			Title:  e.Title(),
			Detail: e.Detail,
		}}})
		return
	}
	if errors.Is(err, store.ErrConstraint) {
		status := http.StatusFailedDependency
		s.writeJSON(w, status, document.ErrorDocument{Errors: []document.Error{{
			Code:   strconv.Itoa(status),
			Title:  http.StatusText(status),
			Detail: err.Error(),
		}}})
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, document.ErrorDocument{Errors: []document.Error{{
		Code:   "500",
		Title:  http.StatusText(http.StatusInternalServerError),
		Detail: "internal server error",
	}}})
}
