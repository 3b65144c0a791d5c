package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scigolib/bptree/internal/core"
)

// nodeCache keeps decoded nodes keyed by page number so that hot pages skip
// deserialization; it does not try to beat the OS page cache. The LRU locks
// internally, so a reader-side miss may populate the cache concurrently
// with the writer. A size of zero or less disables caching entirely.
type nodeCache struct {
	lru *lru.Cache[uint32, *core.Node]
}

func newNodeCache(size int) (*nodeCache, error) {
	c := &nodeCache{}
	if size <= 0 {
		return c, nil
	}
	l, err := lru.New[uint32, *core.Node](size)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *nodeCache) Get(page uint32) (*core.Node, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(page)
}

func (c *nodeCache) Add(node *core.Node) {
	if c.lru == nil {
		return
	}
	c.lru.Add(node.Page, node)
}

func (c *nodeCache) Purge() {
	if c.lru == nil {
		return
	}
	c.lru.Purge()
}
