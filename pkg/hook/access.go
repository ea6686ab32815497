package hook

import (
	"fmt"
	"sort"

	"github.com/restio/restio/pkg/apierr"
	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/schema"
)

// AccessPolicy decides whether the caller may see an object at all, and
// which of a resource's fields the caller may see.
type AccessPolicy interface {
	AllowObject(hctx *Context, obj *document.Resource) bool
	AllowedFields(hctx *Context, res *schema.Resource) map[string]struct{}
}

// AllowAll permits every object and every field.
type AllowAll struct{}

func (AllowAll) AllowObject(*Context, *document.Resource) bool { return true }

func (AllowAll) AllowedFields(_ *Context, res *schema.Resource) map[string]struct{} {
	return res.Fields()
}

// RegisterAccessControl appends the standard access-control hook set:
//
//   - after each object serialization, a denied object is replaced by a
//     reduced {type, id, meta.errors} form, and an allowed object has any
//     field outside the caller's allowed set stripped and listed under
//     meta.forbidden_fields;
//   - after a single-resource fetch, a reduced object aborts the whole
//     request with a Forbidden error. Collection results intentionally do
//     not abort: the caller sees the reduced per-item placeholder instead.
func RegisterAccessControl(reg *Registry, policy AccessPolicy) {
	reg.OnObject(AfterSerializeObject, accessSerializeObject(policy))
	reg.OnDocument(AfterGet, accessGet)
}

func accessSerializeObject(policy AccessPolicy) ObjectFunc {
	return func(hctx *Context, obj *document.Resource) (*document.Resource, error) {
		if !policy.AllowObject(hctx, obj) {
			return &document.Resource{
				Type: obj.Type,
				ID:   obj.ID,
				Meta: document.Meta{
					"errors": []document.Error{{
						Code:   "403",
						Title:  "Forbidden",
						Detail: fmt.Sprintf("No permission to view %s/%s.", obj.Type, obj.ID),
					}},
				},
			}, nil
		}

		// Strip fields added by earlier hooks; fields forbidden from the
		// start were never serialized, so they only need listing.
		forbidden := make(map[string]struct{})
		for name := range obj.Attributes {
			if _, ok := hctx.Allowed[name]; !ok {
				delete(obj.Attributes, name)
				forbidden[name] = struct{}{}
			}
		}
		for name := range obj.Relationships {
			if _, ok := hctx.Allowed[name]; !ok {
				delete(obj.Relationships, name)
				forbidden[name] = struct{}{}
			}
		}
		for name := range hctx.Requested {
			if _, ok := hctx.Allowed[name]; !ok {
				forbidden[name] = struct{}{}
			}
		}

		names := make([]string, 0, len(forbidden))
		for name := range forbidden {
			names = append(names, name)
		}
		sort.Strings(names)
		if obj.Meta == nil {
			obj.Meta = document.Meta{}
		}
		obj.Meta["forbidden_fields"] = names
		return obj, nil
	}
}

func accessGet(_ *Context, doc *document.Document) (*document.Document, error) {
	obj, ok := doc.Data.(*document.Resource)
	if !ok {
		return doc, nil
	}
	for _, e := range obj.MetaErrors() {
		if e.Code == "403" {
			return doc, apierr.Forbiddenf("%s", e.Detail)
		}
	}
	return doc, nil
}
