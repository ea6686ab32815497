// Package document defines the JSON:API wire document types produced by the
// serializer: resource objects, resource identifiers, relationship blocks,
// top-level documents and error documents.
package document

import (
	"encoding/json"
)

// Identifier is the minimal {type, id} reference. It is the only
// representation ever placed inside a relationship block's data.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Links maps link names to URLs.
type Links map[string]string

// Meta carries implementation-specific information.
type Meta map[string]any

// Error is a single entry in an error document or in a resource's
// meta.errors list.
type Error struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// ErrorDocument is the top-level error response shape.
type ErrorDocument struct {
	Errors []Error `json:"errors"`
}

// Resource is a full serialized entity.
type Resource struct {
	ID            string                   `json:"id"`
	Type          string                   `json:"type"`
	Attributes    map[string]any           `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Links         Links                    `json:"links,omitempty"`
	Meta          Meta                     `json:"meta,omitempty"`
}

// Identifier returns the resource's {type, id} reference.
func (r *Resource) Identifier() Identifier {
	return Identifier{Type: r.Type, ID: r.ID}
}

// MetaErrors returns the entries under meta.errors, if any.
func (r *Resource) MetaErrors() []Error {
	if r.Meta == nil {
		return nil
	}
	errs, _ := r.Meta["errors"].([]Error)
	return errs
}

// Relationship is a relationship block on a resource object.
type Relationship struct {
	Links Links             `json:"links,omitempty"`
	Meta  Meta              `json:"meta,omitempty"`
	Data  *RelationshipData `json:"data,omitempty"`
}

// RelationshipData holds a relationship block's data member. A to-one
// relationship marshals as an identifier or null; a to-many relationship
// marshals as a list of identifiers (never null).
type RelationshipData struct {
	One    *Identifier
	Many   []Identifier
	ToMany bool
}

// ToOne returns relationship data for a to-one relationship. A nil
// identifier marshals as null.
func ToOne(id *Identifier) *RelationshipData {
	return &RelationshipData{One: id}
}

// ToMany returns relationship data for a to-many relationship.
func ToMany(ids []Identifier) *RelationshipData {
	return &RelationshipData{Many: ids, ToMany: true}
}

func (d *RelationshipData) MarshalJSON() ([]byte, error) {
	if d.ToMany {
		if d.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(d.Many)
	}
	if d.One == nil {
		return []byte("null"), nil
	}
	return json.Marshal(d.One)
}

func (d *RelationshipData) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*d = RelationshipData{}
		return nil
	case len(b) > 0 && b[0] == '[':
		ids := []Identifier{}
		if err := json.Unmarshal(b, &ids); err != nil {
			return err
		}
		*d = RelationshipData{Many: ids, ToMany: true}
		return nil
	default:
		var id Identifier
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*d = RelationshipData{One: &id}
		return nil
	}
}

// Document is the top-level response shape for requests that return data.
// Data holds a *Resource, []*Resource, Identifier, []Identifier or nil.
type Document struct {
	Data     any         `json:"data"`
	Included []*Resource `json:"included,omitempty"`
	Links    Links       `json:"links,omitempty"`
	Meta     Meta        `json:"meta,omitempty"`
}

// MetaDocument is the top-level response shape for requests that return only
// links and meta information, such as relationship writes.
type MetaDocument struct {
	Links Links `json:"links,omitempty"`
	Meta  Meta  `json:"meta,omitempty"`
}
