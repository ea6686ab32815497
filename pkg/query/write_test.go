package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInsert(t *testing.T) {
	reg := testRegistry(t)
	posts := resource(t, reg, "posts")

	sql, args := mustSQL(t, BuildInsert(posts, map[string]any{"title": "hello"}))
	assert.Equal(t, "INSERT INTO posts (title) VALUES ($1) RETURNING *", sql)
	assert.Equal(t, []any{"hello"}, args)

	// A bodyless create still inserts a row of defaults.
	sql, _ = mustSQL(t, BuildInsert(posts, nil))
	assert.Equal(t, "INSERT INTO posts (id) VALUES (DEFAULT) RETURNING *", sql)
}

func TestBuildUpdate(t *testing.T) {
	reg := testRegistry(t)
	posts := resource(t, reg, "posts")

	sql, args := mustSQL(t, BuildUpdate(posts, "1", map[string]any{"title": "new"}))
	assert.Equal(t, "UPDATE posts SET title = $1 WHERE id = $2", sql)
	assert.Equal(t, []any{"new", "1"}, args)
}

func TestBuildDelete(t *testing.T) {
	reg := testRegistry(t)
	posts := resource(t, reg, "posts")

	sql, args := mustSQL(t, BuildDelete(posts, "1"))
	assert.Equal(t, "DELETE FROM posts WHERE id = $1", sql)
	assert.Equal(t, []any{"1"}, args)
}

func TestBuildExists(t *testing.T) {
	reg := testRegistry(t)
	posts := resource(t, reg, "posts")

	sql, args := mustSQL(t, BuildExists(posts, "1"))
	assert.Equal(t, "SELECT posts.id FROM posts WHERE posts.id = $1", sql)
	assert.Equal(t, []any{"1"}, args)
}
