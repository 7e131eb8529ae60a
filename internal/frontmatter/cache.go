package frontmatter

import "sync"

// Cache memoizes parsed front matter per note path, keyed by content
// checksum so stale entries are never served after an external edit.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	checksum string
	fields   map[string]any
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached fields for path if the checksum still matches.
func (c *Cache) Get(path, sum string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	if !ok || e.checksum != sum {
		return nil, false
	}
	return e.fields, true
}

// Put stores the parsed fields for path under the given checksum.
func (c *Cache) Put(path, sum string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{checksum: sum, fields: fields}
}

// Invalidate drops the entry for path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
