// Package hook implements the callback pipeline invoked around each API
// operation and around serialization. Hook lists are built once at
// configuration time and evaluated read-only at request time, strictly in
// registration order; each hook consumes and returns the current payload.
package hook

import (
	"context"

	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/schema"
)

// Point names a lifecycle point.
type Point string

const (
	// AfterSerializeIdentifier runs after each resource identifier is built.
	AfterSerializeIdentifier Point = "after_serialize_identifier"
	// AfterSerializeObject runs after each resource object is built.
	AfterSerializeObject Point = "after_serialize_object"

	// AfterGet runs on the final document of a single-resource fetch.
	AfterGet Point = "after_get"
	// AfterCollectionGet runs on the final document of a collection fetch.
	AfterCollectionGet Point = "after_collection_get"
	// AfterRelatedGet runs on the final document of a related-objects fetch.
	AfterRelatedGet Point = "after_related_get"
	// AfterRelationshipsGet runs on the final document of a relationship
	// identifiers fetch.
	AfterRelationshipsGet Point = "after_relationships_get"

	// BeforeCollectionPost runs on the submitted object before a create.
	BeforeCollectionPost Point = "before_collection_post"
	// BeforePatch runs on the submitted partial object before an update.
	BeforePatch Point = "before_patch"
	// BeforeDelete runs on the target identifier before a delete.
	BeforeDelete Point = "before_delete"

	// BeforeRelationshipsPost runs on the submitted document before
	// relationship members are added.
	BeforeRelationshipsPost Point = "before_relationships_post"
	// BeforeRelationshipsPatch runs on the submitted document before
	// relationship membership is replaced.
	BeforeRelationshipsPatch Point = "before_relationships_patch"
	// BeforeRelationshipsDelete runs on the parent identifier before
	// relationship members are removed.
	BeforeRelationshipsDelete Point = "before_relationships_delete"
)

// Context carries per-request information into hooks.
type Context struct {
	Context  context.Context
	Resource *schema.Resource
	// Requested is the requested field-name set for Resource.
	Requested map[string]struct{}
	// Allowed is the caller's allowed field set for Resource.
	Allowed map[string]struct{}
	// Principal is the verified caller identity, when one is present.
	Principal any
}

// IdentifierFunc consumes and returns a resource identifier.
type IdentifierFunc func(*Context, document.Identifier) (document.Identifier, error)

// ObjectFunc consumes and returns a resource object, possibly replacing it.
type ObjectFunc func(*Context, *document.Resource) (*document.Resource, error)

// DocumentFunc consumes and returns a top-level document.
type DocumentFunc func(*Context, *document.Document) (*document.Document, error)

// Registry holds the ordered hook lists per lifecycle point. Register all
// hooks before serving requests; the registry is not safe for concurrent
// mutation.
type Registry struct {
	identifier map[Point][]IdentifierFunc
	object     map[Point][]ObjectFunc
	doc        map[Point][]DocumentFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		identifier: make(map[Point][]IdentifierFunc),
		object:     make(map[Point][]ObjectFunc),
		doc:        make(map[Point][]DocumentFunc),
	}
}

// OnIdentifier appends identifier hooks to a lifecycle point.
func (r *Registry) OnIdentifier(p Point, fns ...IdentifierFunc) {
	r.identifier[p] = append(r.identifier[p], fns...)
}

// OnObject appends object hooks to a lifecycle point.
func (r *Registry) OnObject(p Point, fns ...ObjectFunc) {
	r.object[p] = append(r.object[p], fns...)
}

// OnDocument appends document hooks to a lifecycle point.
func (r *Registry) OnDocument(p Point, fns ...DocumentFunc) {
	r.doc[p] = append(r.doc[p], fns...)
}

// RunIdentifier invokes the identifier hooks registered at p in order.
func (r *Registry) RunIdentifier(p Point, hctx *Context, id document.Identifier) (document.Identifier, error) {
	for _, fn := range r.identifier[p] {
		var err error
		if id, err = fn(hctx, id); err != nil {
			return id, err
		}
	}
	return id, nil
}

// RunObject invokes the object hooks registered at p in order.
func (r *Registry) RunObject(p Point, hctx *Context, obj *document.Resource) (*document.Resource, error) {
	for _, fn := range r.object[p] {
		var err error
		if obj, err = fn(hctx, obj); err != nil {
			return obj, err
		}
	}
	return obj, nil
}

// RunDocument invokes the document hooks registered at p in order.
func (r *Registry) RunDocument(p Point, hctx *Context, doc *document.Document) (*document.Document, error) {
	for _, fn := range r.doc[p] {
		var err error
		if doc, err = fn(hctx, doc); err != nil {
			return doc, err
		}
	}
	return doc, nil
}
