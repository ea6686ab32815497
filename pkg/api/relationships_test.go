package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restio/restio/internal/testutil/storetest"
	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/store"
)

func TestRelatedGetToMany(t *testing.T) {
	st := storetest.New()
	st.Rows("authors.id FROM authors WHERE", store.Row{"id": 1})
	st.Counts("COUNT(*) FROM posts", 2)
	st.Rows("posts.title FROM posts WHERE posts.author_id",
		store.Row{"id": 11, "author_id": 1, "title": "first"},
		store.Row{"id": 12, "author_id": 1, "title": "second"},
	)
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet, "/authors/1/posts?fields[posts]=title,author", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeResources(t, doc.Data)
	require.Len(t, data, 2)
	assert.Equal(t, "posts", data[0].Type)
	assert.Equal(t, "first", data[0].Attributes["title"])

	results := doc.Meta["results"].(map[string]any)
	assert.Equal(t, float64(2), results["available"])
	assert.Equal(t, float64(2), results["returned"])
	assert.Contains(t, doc.Links["first"], "/authors/1/posts?")
}

func TestRelatedGetToOne(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id, posts.author_id FROM posts WHERE", store.Row{"id": 1, "author_id": 9})
	st.Rows("authors.name FROM authors WHERE", store.Row{"id": 9, "name": "Ann"})
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet, "/posts/1/author?fields[authors]=name", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data document.Resource
	require.NoError(t, json.Unmarshal(doc.Data, &data))
	assert.Equal(t, "authors", data.Type)
	assert.Equal(t, "9", data.ID)
	assert.Equal(t, "Ann", data.Attributes["name"])
}

func TestRelatedGetToOneEmpty(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id, posts.author_id FROM posts WHERE", store.Row{"id": 1, "author_id": nil})
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet, "/posts/1/author", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(doc.Data))
}

func TestRelatedGetSourceMissing(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodGet, "/authors/99/posts", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "no id 99")
}

func TestRelatedGetUnknownRelationship(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodGet, "/posts/1/bogus", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, `no such relationship "bogus"`)
}

func TestRelationshipsGetToMany(t *testing.T) {
	st := storetest.New()
	st.Rows("authors.id FROM authors WHERE", store.Row{"id": 1})
	st.Counts("COUNT(*) FROM posts", 2)
	st.Rows("posts.id FROM posts WHERE posts.author_id",
		store.Row{"id": 11},
		store.Row{"id": 12},
	)
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet, "/authors/1/relationships/posts", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ids []document.Identifier
	require.NoError(t, json.Unmarshal(doc.Data, &ids))
	assert.Equal(t, []document.Identifier{{Type: "posts", ID: "11"}, {Type: "posts", ID: "12"}}, ids)

	results := doc.Meta["results"].(map[string]any)
	assert.Equal(t, float64(2), results["available"])
	assert.Contains(t, doc.Links["first"], "/authors/1/relationships/posts?")
}

func TestRelationshipsGetToOne(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id, posts.author_id FROM posts WHERE", store.Row{"id": 1, "author_id": 9})
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet, "/posts/1/relationships/author", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ident document.Identifier
	require.NoError(t, json.Unmarshal(doc.Data, &ident))
	assert.Equal(t, document.Identifier{Type: "authors", ID: "9"}, ident)
}

func TestRelationshipsPostToOneRejected(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPost, "/posts/1/relationships/author",
		`{"data": {"type": "authors", "id": "9"}}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "cannot POST to a to-one relationship")
}

func TestRelationshipsPostToMany(t *testing.T) {
	st := storetest.New()
	st.Rows("authors.id FROM authors WHERE", store.Row{"id": 1})
	st.Rows("posts.id FROM posts WHERE", store.Row{"id": 2})
	srv := newTestServer(t, st)

	rec, _ := doRequest(t, srv, http.MethodPost, "/authors/1/relationships/posts",
		`{"data": [{"type": "posts", "id": "2"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sawAdd bool
	for _, sql := range st.Statements() {
		if strings.HasPrefix(sql, "UPDATE posts SET author_id") {
			sawAdd = true
		}
	}
	assert.True(t, sawAdd)
}

func TestRelationshipsPatchToMany(t *testing.T) {
	st := storetest.New()
	st.Rows("authors.id FROM authors WHERE", store.Row{"id": 1})
	st.Rows("posts.id FROM posts WHERE", store.Row{"id": 2})
	srv := newTestServer(t, st)

	rec, _ := doRequest(t, srv, http.MethodPatch, "/authors/1/relationships/posts",
		`{"data": [{"type": "posts", "id": "2"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Replacement first detaches current members, then attaches the new set.
	var updates []string
	for _, sql := range st.Statements() {
		if strings.HasPrefix(sql, "UPDATE posts SET author_id") {
			updates = append(updates, sql)
		}
	}
	require.Len(t, updates, 2)
	assert.Contains(t, updates[0], "WHERE author_id")
	assert.Contains(t, updates[1], "WHERE id IN")
}

func TestRelationshipsPatchToOne(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id FROM posts WHERE", store.Row{"id": 1})
	st.Rows("authors.id FROM authors WHERE", store.Row{"id": 9})
	srv := newTestServer(t, st)

	rec, _ := doRequest(t, srv, http.MethodPatch, "/posts/1/relationships/author",
		`{"data": {"type": "authors", "id": "9"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sawSet bool
	for _, sql := range st.Statements() {
		if strings.HasPrefix(sql, "UPDATE posts SET author_id") {
			sawSet = true
		}
	}
	assert.True(t, sawSet)
}

func TestRelationshipsPatchToOneNull(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id FROM posts WHERE", store.Row{"id": 1})
	srv := newTestServer(t, st)

	rec, _ := doRequest(t, srv, http.MethodPatch, "/posts/1/relationships/author",
		`{"data": null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRelationshipsPatchShapeMismatch(t *testing.T) {
	srv := newTestServer(t, storetest.New())

	rec, doc := doRequest(t, srv, http.MethodPatch, "/posts/1/relationships/author",
		`{"data": [{"type": "authors", "id": "9"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "is to-one")

	rec, doc = doRequest(t, srv, http.MethodPatch, "/authors/1/relationships/posts",
		`{"data": {"type": "posts", "id": "2"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "is to-many")
}

func TestRelationshipsPatchTypeMismatch(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPatch, "/authors/1/relationships/posts",
		`{"data": [{"type": "tags", "id": "2"}]}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, `does not match relationship target "posts"`)
}

func TestRelationshipsDeleteToMany(t *testing.T) {
	st := storetest.New()
	st.Rows("authors.id FROM authors WHERE", store.Row{"id": 1})
	srv := newTestServer(t, st)

	rec, _ := doRequest(t, srv, http.MethodDelete, "/authors/1/relationships/posts",
		`{"data": [{"type": "posts", "id": "2"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sawRemove bool
	for _, sql := range st.Statements() {
		if strings.HasPrefix(sql, "UPDATE posts SET author_id") && strings.Contains(sql, "WHERE id IN") {
			sawRemove = true
		}
	}
	assert.True(t, sawRemove)
}

func TestRelationshipsDeleteToOneRejected(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodDelete, "/posts/1/relationships/author",
		`{"data": []}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "cannot DELETE from a to-one relationship")
}

func TestRelationshipsMissingDataMember(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPatch, "/posts/1/relationships/author", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "data member")
}
