package blobstore

import (
	"sync"

	"realmsdb/pkg/list"
)

// cache is an LRU of resources keyed by id. The head of the list is the
// most recently used entry. gen moves on every removal so that a read that
// raced a mutation does not cache what it read.
type cache struct {
	mu    sync.Mutex
	limit int
	gen   uint64
	lru   *list.List[*Resource]
	byID  map[int64]*list.Link[*Resource]
}

func newCache(limit int) *cache {
	return &cache{
		limit: limit,
		lru:   list.NewList[*Resource](),
		byID:  make(map[int64]*list.Link[*Resource]),
	}
}

func (c *cache) get(id int64) *Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	link, ok := c.byID[id]
	if !ok {
		return nil
	}
	link.MoveToHead()
	return link.GetValue()
}

func (c *cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// put adds res unless something was removed since generation gen.
func (c *cache) put(res *Resource, gen uint64) {
	if c.limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if link, ok := c.byID[res.id]; ok {
		link.SetValue(res)
		link.MoveToHead()
		return
	}
	c.byID[res.id] = c.lru.PushHead(res)
	for c.lru.Len() > c.limit {
		tail := c.lru.PeekTail()
		delete(c.byID, tail.GetValue().id)
		tail.PopSelf()
	}
}

func (c *cache) remove(ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, id := range ids {
		if link, ok := c.byID[id]; ok {
			link.PopSelf()
			delete(c.byID, id)
		}
	}
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
