package types

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewCache is given a non-positive size.
const DefaultCacheSize = 256

// Cache memoizes parsed column lists by their text. Columns are immutable, so
// cached slices are shared between callers; callers must not modify them.
type Cache struct {
	lru *lru.Cache[string, []*Column]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[string, []*Column](size)
	if err != nil {
		return nil, fmt.Errorf("types: new cache: %w", err)
	}
	return &Cache{lru: l}, nil
}

// ParseColumns returns the cached result for text or parses and stores it.
// Errors are not cached.
func (c *Cache) ParseColumns(text string) ([]*Column, error) {
	if cols, ok := c.lru.Get(text); ok {
		return cols, nil
	}
	cols, err := ParseColumns(text)
	if err != nil {
		return nil, err
	}
	c.lru.Add(text, cols)
	return cols, nil
}

// Parse is the single-type counterpart of ParseColumns. Entries are keyed by
// name and type so the same type under different names is stored separately.
func (c *Cache) Parse(typeText, name string) (*Column, error) {
	key := "\x00" + name + "\x00" + typeText
	if cols, ok := c.lru.Get(key); ok {
		return cols[0], nil
	}
	col, err := Parse(typeText, name)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, []*Column{col})
	return col, nil
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Purge() { c.lru.Purge() }
