package service

import (
	v1 "farmgate/pkg/api/v1"
	"sync"
)

// DocumentCache holds the last seen remote flag document.
type DocumentCache struct {
	mu       sync.RWMutex
	flags    map[string]bool
	version  int
	revision int64
}

func NewDocumentCache() *DocumentCache {
	return &DocumentCache{
		flags: make(map[string]bool),
	}
}

// Update replaces the cached document unless it is older than what is cached.
func (c *DocumentCache) Update(doc v1.FlagDocument) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if doc.Revision != 0 && doc.Revision < c.revision {
		return false
	}
	next := make(map[string]bool, len(doc.Flags))
	for k, v := range doc.Flags {
		next[k] = v
	}
	c.flags = next
	c.version = doc.Version
	if doc.Revision > c.revision {
		c.revision = doc.Revision
	}
	return true
}

func (c *DocumentCache) Clear(rev int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = make(map[string]bool)
	if rev > c.revision {
		c.revision = rev
	}
}

func (c *DocumentCache) Snapshot() v1.FlagDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	flags := make(map[string]bool, len(c.flags))
	for k, v := range c.flags {
		flags[k] = v
	}
	return v1.FlagDocument{Flags: flags, Version: c.version, Revision: c.revision}
}
