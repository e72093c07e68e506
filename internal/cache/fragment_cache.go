package cache

import (
	"sort"
	"sync"
	"time"
)

// Entry is one cached fragment
type Entry[T any] struct {
	Value    T
	Hash     string
	Path     string
	CachedAt time.Time
}

// FragmentCache maps file paths to the value parsed from them. A lookup
// only hits when the stored hash equals the file's current hash.
type FragmentCache[T any] struct {
	entries map[string]*Entry[T]
	mu      sync.RWMutex
}

// NewFragmentCache creates an empty cache
func NewFragmentCache[T any]() *FragmentCache[T] {
	return &FragmentCache[T]{entries: make(map[string]*Entry[T])}
}

// Get returns the entry stored for path
func (c *FragmentCache[T]) Get(path string) (*Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[path]
	return e, ok
}

// Lookup returns the cached value for path if it was parsed from content
// with the given hash
func (c *FragmentCache[T]) Lookup(path, hash string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	e, ok := c.entries[path]
	if !ok || e.Hash != hash {
		return zero, false
	}
	return e.Value, true
}

// Set stores a value for path
func (c *FragmentCache[T]) Set(path string, value T, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = &Entry[T]{
		Value:    value,
		Hash:     hash,
		Path:     path,
		CachedAt: time.Now(),
	}
}

// Invalidate removes an entry from the cache
func (c *FragmentCache[T]) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
}

// InvalidateAll clears the entire cache
func (c *FragmentCache[T]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry[T])
}

// Retain drops every entry whose path is not in keep and returns how many
// were dropped. Used after a reload to forget deleted files.
func (c *FragmentCache[T]) Retain(keep map[string]bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for path := range c.entries {
		if !keep[path] {
			delete(c.entries, path)
			dropped++
		}
	}
	return dropped
}

// Size returns the number of cached entries
func (c *FragmentCache[T]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Paths returns the cached paths in sorted order
func (c *FragmentCache[T]) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
