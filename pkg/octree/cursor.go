package octree

import "realmsdb/pkg/cursor"

var _ cursor.Cursor[Entry[int32]] = (*Cursor[int32])(nil)

// Cursor walks every entry of an index in pre-order, octant 0 first. Child
// nodes are read only when the cursor reaches them.
type Cursor[V any] struct {
	r     *Reader[V]
	stack []*nodeRef
	leaf  *node
	idx   int
	cur   Entry[V]
	err   error
}

// Cursor returns a cursor positioned before the first entry.
func (r *Reader[V]) Cursor() *Cursor[V] {
	return &Cursor[V]{r: r, stack: []*nodeRef{r.root}}
}

// Next moves the cursor to the next entry in the index.
func (c *Cursor[V]) Next() bool {
	if c.err != nil {
		return false
	}
	for {
		if c.leaf != nil && c.idx < len(c.leaf.entries) {
			c.cur = c.r.entry(c.leaf.entries[c.idx])
			c.idx++
			return true
		}
		c.leaf = nil
		if len(c.stack) == 0 {
			return false
		}
		ref := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		n, err := c.r.load(ref)
		if err != nil {
			c.err = err
			return false
		}
		if n.leaf {
			c.leaf, c.idx = n, 0
			continue
		}
		for o := NodeWords - 1; o >= 0; o-- {
			if n.children[o] != nil {
				c.stack = append(c.stack, n.children[o])
			}
		}
	}
}

// Entry returns the entry at the position of the cursor.
func (c *Cursor[V]) Entry() Entry[V] {
	return c.cur
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor[V]) Err() error {
	return c.err
}
