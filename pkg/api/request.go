package api

import (
	"encoding/json"
	"net/http"

	"github.com/restio/restio/pkg/apierr"
	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/schema"
)

// decodeResourceBody reads a {"data": {...}} resource document.
func decodeResourceBody(r *http.Request) (*document.Resource, error) {
	var body struct {
		Data *document.Resource `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apierr.Validationf("invalid request body: %v", err)
	}
	if body.Data == nil {
		return nil, apierr.Validationf("request body needs a data member")
	}
	return body.Data, nil
}

// decodeRelationshipBody reads a {"data": ...} relationship document. The
// data member may be an identifier, null, or a list of identifiers; it must
// be present.
func decodeRelationshipBody(r *http.Request) (*document.RelationshipData, error) {
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apierr.Validationf("invalid request body: %v", err)
	}
	if body.Data == nil {
		return nil, apierr.Validationf("request body needs a data member")
	}
	var rd document.RelationshipData
	if err := rd.UnmarshalJSON(body.Data); err != nil {
		return nil, apierr.Validationf("invalid relationship data: %v", err)
	}
	return &rd, nil
}

// attributeValues maps submitted attributes onto their backing columns. An
// attribute the schema does not declare fails the request.
func attributeValues(res *schema.Resource, attrs map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(attrs))
	for name, v := range attrs {
		att, ok := res.Attributes[name]
		if !ok {
			return nil, apierr.Validationf("no such attribute %q in collection %q", name, res.Type)
		}
		values[att.Column] = v
	}
	return values, nil
}
