package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHasher_HashContent(t *testing.T) {
	hasher := NewFileHasher()

	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hasher.HashContent(nil))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", hasher.HashContent([]byte("hello world")))
}

func TestFileHasher_HashFile(t *testing.T) {
	hasher := NewFileHasher()
	path := filepath.Join(t.TempDir(), "a.rt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	got, err := hasher.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, hasher.HashContent([]byte("hello world")), got)

	_, err = hasher.HashFile(filepath.Join(t.TempDir(), "missing.rt"))
	assert.Error(t, err)
}

func TestFragmentCache_Lookup(t *testing.T) {
	c := NewFragmentCache[[]string]()
	c.Set("/ws/a.rt", []string{"Root"}, "h1")

	got, ok := c.Lookup("/ws/a.rt", "h1")
	require.True(t, ok)
	assert.Equal(t, []string{"Root"}, got)

	_, ok = c.Lookup("/ws/a.rt", "h2")
	assert.False(t, ok, "changed content must miss")

	_, ok = c.Lookup("/ws/b.rt", "h1")
	assert.False(t, ok)

	e, ok := c.Get("/ws/a.rt")
	require.True(t, ok)
	assert.Equal(t, "h1", e.Hash)
	assert.Equal(t, "/ws/a.rt", e.Path)
	assert.False(t, e.CachedAt.IsZero())
}

func TestFragmentCache_Invalidate(t *testing.T) {
	c := NewFragmentCache[int]()
	c.Set("/b", 2, "x")
	c.Set("/a", 1, "x")
	c.Set("/c", 3, "x")
	assert.Equal(t, 3, c.Size())
	assert.Equal(t, []string{"/a", "/b", "/c"}, c.Paths())

	c.Invalidate("/b")
	assert.Equal(t, []string{"/a", "/c"}, c.Paths())

	assert.Equal(t, 1, c.Retain(map[string]bool{"/a": true}))
	assert.Equal(t, []string{"/a"}, c.Paths())

	c.InvalidateAll()
	assert.Zero(t, c.Size())
}
