package stamp

import (
	"os"
	"strings"
	"sync"
	"time"
)

// CacheKey identifies a composed block by everything that affects its
// pixels.
type CacheKey struct {
	LogoPath    string
	LogoModTime time.Time
	LogoSize    int64
	Lines       string
	FontSizeMM  float64
	LogoWidthMM float64
	FontFamily  string
	FontStyle   string
	Simplified  bool
}

// KeyFor derives the cache key of req. The logo file is stat'ed so an
// edited logo produces a new key.
func KeyFor(req ComposeRequest) CacheKey {
	k := CacheKey{
		LogoPath:    req.LogoPath,
		Lines:       strings.Join(req.Lines, "\n"),
		FontSizeMM:  req.FontSizeMM,
		LogoWidthMM: req.LogoWidthMM,
		FontFamily:  req.FontFamily,
		FontStyle:   req.FontStyle,
		Simplified:  req.Simplified,
	}
	if fi, err := os.Stat(req.LogoPath); err == nil {
		k.LogoModTime = fi.ModTime()
		k.LogoSize = fi.Size()
	}
	return k
}

// Cache memoizes composed blocks. Failed computations are not stored.
type Cache struct {
	mu      sync.Mutex
	entries map[CacheKey]*Block
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[CacheKey]*Block)}
}

// GetOrCompute returns the block for key, calling compute on a miss.
func (c *Cache) GetOrCompute(key CacheKey, compute func() (*Block, error)) (*Block, error) {
	c.mu.Lock()
	if b, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	b, err := compute()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = b
	return b, nil
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(key CacheKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[CacheKey]*Block)
	c.mu.Unlock()
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ComposeCached composes req through cache. A nil cache composes directly.
func (c *Composer) ComposeCached(cache *Cache, req ComposeRequest) (*Block, error) {
	if cache == nil || req.Logo != nil {
		return c.Compose(req)
	}
	return cache.GetOrCompute(KeyFor(req), func() (*Block, error) { return c.Compose(req) })
}
