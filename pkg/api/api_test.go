package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/restio/restio/internal/testutil/storetest"
	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/hook"
	"github.com/restio/restio/pkg/query"
	"github.com/restio/restio/pkg/schema"
	"github.com/restio/restio/pkg/store"
)

func blogRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Resource{
			Type: "posts",
			Key:  "id",
			Attributes: map[string]schema.Attribute{
				"title": {Column: "title", Type: "text"},
			},
			Relationships: map[string]schema.Relationship{
				"author": {Name: "author", Target: "authors", Kind: schema.ManyToOne, LocalColumn: "author_id"},
				"tags": {Name: "tags", Target: "tags", Kind: schema.ManyToMany,
					JoinTable: "posts_tags", JoinSourceColumn: "post_id", JoinTargetColumn: "tag_id"},
			},
		},
		&schema.Resource{
			Type: "authors",
			Key:  "id",
			Attributes: map[string]schema.Attribute{
				"name": {Column: "name", Type: "text"},
			},
			Relationships: map[string]schema.Relationship{
				"posts": {Name: "posts", Target: "posts", Kind: schema.OneToMany, RemoteColumn: "author_id"},
			},
		},
		&schema.Resource{
			Type: "tags",
			Key:  "id",
			Attributes: map[string]schema.Attribute{
				"label": {Column: "label", Type: "text"},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func newTestServer(t *testing.T, st *storetest.Store) *Server {
	t.Helper()
	hooks := hook.NewRegistry()
	hook.RegisterAccessControl(hooks, hook.AllowAll{})
	return New(st, blogRegistry(t), hooks, hook.AllowAll{}, Options{
		BaseURL: "http://api.test",
		Limits:  query.Limits{Default: 10, Max: 100},
	}, zap.NewNop())
}

// testDoc decodes any top-level response shape.
type testDoc struct {
	Data     json.RawMessage      `json:"data"`
	Included []document.Resource  `json:"included"`
	Links    map[string]string    `json:"links"`
	Meta     map[string]any       `json:"meta"`
	Errors   []document.Error     `json:"errors"`
}

func doRequest(t *testing.T, srv *Server, method, target, body string) (*httptest.ResponseRecorder, testDoc) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var doc testDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	return rec, doc
}

func decodeResources(t *testing.T, raw json.RawMessage) []document.Resource {
	t.Helper()
	var out []document.Resource
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func pageOffset(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("page[offset]")
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MediaType, rec.Header().Get("Content-Type"))
	assert.Equal(t, []any{"authors", "posts", "tags"}, doc.Meta["collections"])
}

func TestCollectionGet(t *testing.T) {
	st := storetest.New()
	st.Counts("COUNT(*) FROM posts", 25)
	st.Rows("posts.title FROM posts",
		store.Row{"id": 11, "author_id": 9, "title": "first"},
		store.Row{"id": 12, "author_id": nil, "title": "second"},
	)
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet,
		"/posts?fields[posts]=title,author&page[limit]=10&page[offset]=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeResources(t, doc.Data)
	require.Len(t, data, 2)
	assert.Equal(t, "posts", data[0].Type)
	assert.Equal(t, "11", data[0].ID)
	assert.Equal(t, "first", data[0].Attributes["title"])
	assert.Equal(t, "http://api.test/posts/11", data[0].Links["self"])

	// A many-to-one relationship is served from the stored foreign key
	// without an extra query.
	author := data[0].Relationships["author"]
	require.NotNil(t, author)
	require.NotNil(t, author.Data.One)
	assert.Equal(t, document.Identifier{Type: "authors", ID: "9"}, *author.Data.One)
	assert.Equal(t, "http://api.test/posts/11/relationships/author", author.Links["self"])
	assert.Equal(t, "http://api.test/posts/11/author", author.Links["related"])
	assert.Equal(t, "MANYTOONE", author.Meta["direction"])

	// A null foreign key serializes as an empty to-one.
	require.NotNil(t, data[1].Relationships["author"])
	assert.Nil(t, data[1].Relationships["author"].Data.One)

	results := doc.Meta["results"].(map[string]any)
	assert.Equal(t, float64(25), results["available"])
	assert.Equal(t, float64(10), results["offset"])
	assert.Equal(t, float64(2), results["returned"])

	assert.Equal(t, "0", pageOffset(t, doc.Links["first"]))
	assert.Equal(t, "0", pageOffset(t, doc.Links["prev"]))
	assert.Equal(t, "20", pageOffset(t, doc.Links["next"]))
	assert.Equal(t, "20", pageOffset(t, doc.Links["last"]))
	assert.Contains(t, doc.Links["self"], "/posts?")
}

func TestCollectionGetLastPage(t *testing.T) {
	st := storetest.New()
	st.Counts("COUNT(*) FROM posts", 25)
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet,
		"/posts?fields[posts]=title&page[limit]=10&page[offset]=20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// On the final page there is nothing past the window, so next is omitted.
	assert.NotContains(t, doc.Links, "next")
	assert.Equal(t, "10", pageOffset(t, doc.Links["prev"]))
	assert.Equal(t, "20", pageOffset(t, doc.Links["last"]))
}

func TestCollectionGetBadFilter(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodGet, "/posts?filter[title:frobnicate]=x", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "400", doc.Errors[0].Code)
	assert.Contains(t, doc.Errors[0].Detail, "frobnicate")
}

func TestCollectionGetUnknownType(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodGet, "/widgets", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, `"widgets"`)
}

func TestGetNotFound(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodGet, "/posts/99", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "404", doc.Errors[0].Code)
	assert.Contains(t, doc.Errors[0].Detail, "no id 99")
}

func TestGetBadIncludePath(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodGet, "/posts/1?include=nothere", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "bad include paths: nothere")
}

func TestGetIncludeToOne(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.title FROM posts WHERE", store.Row{"id": 1, "author_id": 9, "title": "hello"})
	st.Rows("authors.name FROM authors WHERE", store.Row{"id": 9, "name": "Ann"})
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet,
		"/posts/1?include=author&fields[posts]=title,author&fields[authors]=name", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data document.Resource
	require.NoError(t, json.Unmarshal(doc.Data, &data))
	assert.Equal(t, "1", data.ID)

	author := data.Relationships["author"]
	require.NotNil(t, author)
	require.NotNil(t, author.Data.One)
	assert.Equal(t, "9", author.Data.One.ID)

	require.Len(t, doc.Included, 1)
	assert.Equal(t, "authors", doc.Included[0].Type)
	assert.Equal(t, "9", doc.Included[0].ID)
	assert.Equal(t, "Ann", doc.Included[0].Attributes["name"])
}

func TestGetIncludeOutsideFieldset(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.title FROM posts WHERE", store.Row{"id": 1, "author_id": 9, "title": "hello"})
	st.Rows("authors.name FROM authors WHERE", store.Row{"id": 9, "name": "Ann"})
	srv := newTestServer(t, st)

	// author is on the include path but not in the posts fieldset: the
	// target still lands in included, the relationship block does not.
	rec, doc := doRequest(t, srv, http.MethodGet,
		"/posts/1?include=author&fields[posts]=title&fields[authors]=name", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data document.Resource
	require.NoError(t, json.Unmarshal(doc.Data, &data))
	assert.Equal(t, "hello", data.Attributes["title"])
	assert.NotContains(t, data.Relationships, "author")

	require.Len(t, doc.Included, 1)
	assert.Equal(t, "authors", doc.Included[0].Type)
	assert.Equal(t, "9", doc.Included[0].ID)
}

func TestCollectionGetIncludeToMany(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.title FROM posts ORDER BY",
		store.Row{"id": 1, "title": "first"},
		store.Row{"id": 2, "title": "second"})
	st.Counts("COUNT(*) FROM posts", 2)
	// Both posts carry the same tag.
	st.Rows("tags.label FROM tags JOIN posts_tags", store.Row{"id": 5, "label": "go"})
	st.Counts("COUNT(*) FROM tags", 1)
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodGet,
		"/posts?include=tags&fields[posts]=title,tags&fields[tags]=label", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeResources(t, doc.Data)
	require.Len(t, data, 2)
	for _, res := range data {
		tags := res.Relationships["tags"]
		require.NotNil(t, tags)
		require.NotNil(t, tags.Data)
		require.Len(t, tags.Data.Many, 1)
		assert.Equal(t, document.Identifier{Type: "tags", ID: "5"}, tags.Data.Many[0])

		results, ok := tags.Meta["results"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(1), results["available"])
		assert.Equal(t, float64(10), results["limit"])
		assert.Equal(t, float64(1), results["returned"])
	}

	// The shared tag appears in included exactly once.
	require.Len(t, doc.Included, 1)
	assert.Equal(t, "tags", doc.Included[0].Type)
	assert.Equal(t, "5", doc.Included[0].ID)
	assert.Equal(t, "go", doc.Included[0].Attributes["label"])
}

func TestPostCreates(t *testing.T) {
	st := storetest.New()
	st.Rows("INSERT INTO posts", store.Row{"id": 7, "author_id": nil, "title": "hello"})
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodPost, "/posts",
		`{"data": {"type": "posts", "attributes": {"title": "hello"}}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "http://api.test/posts/7", rec.Header().Get("Location"))

	var data document.Resource
	require.NoError(t, json.Unmarshal(doc.Data, &data))
	assert.Equal(t, "7", data.ID)
	assert.Equal(t, "hello", data.Attributes["title"])
	assert.Equal(t, "http://api.test/posts/7", doc.Links["self"])
}

func TestPostTypeMismatch(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPost, "/posts",
		`{"data": {"type": "authors", "attributes": {"name": "Ann"}}}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, `does not match collection "posts"`)
}

func TestPostClientIDRejected(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPost, "/posts",
		`{"data": {"type": "posts", "id": "42"}}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "client-generated ids")
}

func TestPostMissingData(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPost, "/posts", `{"meta": {}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "data member")
}

func TestPostUnknownAttribute(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPost, "/posts",
		`{"data": {"type": "posts", "attributes": {"bogus": 1}}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, `"bogus"`)
}

func TestPostMissingRelationshipTarget(t *testing.T) {
	st := storetest.New()
	// No authors row registered, so the reference check inside the
	// transaction fails and nothing is inserted.
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodPost, "/posts",
		`{"data": {"type": "posts", "attributes": {"title": "x"},
			"relationships": {"author": {"data": {"type": "authors", "id": "9"}}}}}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "authors/9 not found")
	for _, sql := range st.Statements() {
		assert.NotContains(t, sql, "INSERT INTO posts (")
	}
}

func TestPatch(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id FROM posts WHERE", store.Row{"id": 1})
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodPatch, "/posts/1",
		`{"data": {"type": "posts", "id": "1", "attributes": {"title": "new"}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := doc.Meta["updated"].(map[string]any)
	assert.Equal(t, []any{"title"}, updated["attributes"])

	var sawUpdate bool
	for _, sql := range st.Statements() {
		if strings.HasPrefix(sql, "UPDATE posts SET title") {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate)
}

func TestPatchNotFound(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, doc := doRequest(t, srv, http.MethodPatch, "/posts/1",
		`{"data": {"type": "posts", "id": "1", "attributes": {"title": "new"}}}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Detail, "cannot PATCH a non existent resource")
}

func TestPatchIDMismatch(t *testing.T) {
	srv := newTestServer(t, storetest.New())
	rec, _ := doRequest(t, srv, http.MethodPatch, "/posts/1",
		`{"data": {"type": "posts", "id": "2"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDelete(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id FROM posts WHERE", store.Row{"id": 1})
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodDelete, "/posts/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var ident document.Identifier
	require.NoError(t, json.Unmarshal(doc.Data, &ident))
	assert.Equal(t, document.Identifier{Type: "posts", ID: "1"}, ident)

	var sawDelete bool
	for _, sql := range st.Statements() {
		if strings.HasPrefix(sql, "DELETE FROM posts") {
			sawDelete = true
		}
	}
	assert.True(t, sawDelete)
}

func TestDeleteAbsent(t *testing.T) {
	st := storetest.New()
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodDelete, "/posts/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(doc.Data))

	for _, sql := range st.Statements() {
		assert.NotContains(t, sql, "DELETE")
	}
}

func TestDeleteConstraint(t *testing.T) {
	st := storetest.New()
	st.Rows("posts.id FROM posts WHERE", store.Row{"id": 1})
	st.Err = fmt.Errorf("%w: posts_author_id_fkey", store.ErrConstraint)
	srv := newTestServer(t, st)

	rec, doc := doRequest(t, srv, http.MethodDelete, "/posts/1", "")
	assert.Equal(t, http.StatusFailedDependency, rec.Code)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "424", doc.Errors[0].Code)
}
