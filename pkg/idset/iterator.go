package idset

import "iter"

// Iterator is a fail-fast, single pass walk over a set. Dense sets yield
// ids in ascending order, sparse sets in table order and array views in
// array order.
type Iterator struct {
	set      *Set
	mode     mode
	expected int
	pos      int
	cur      int32
	err      error
}

// Iterator returns an iterator positioned before the first id.
func (s *Set) Iterator() *Iterator {
	return &Iterator{set: s, mode: s.mode, expected: s.modCount}
}

// Next advances to the next id. It returns false at the end of the set or
// once the set has been structurally modified, in which case Err reports
// ErrConcurrentModification.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	s := it.set
	if s.modCount != it.expected {
		it.err = ErrConcurrentModification
		return false
	}
	switch it.mode {
	case denseMode:
		i, ok := s.dense.NextSet(uint(it.pos))
		if !ok || int(i) >= s.universe {
			it.pos = s.universe
			return false
		}
		it.cur = int32(i)
		it.pos = int(i) + 1
		return true
	case sparseMode:
		for it.pos < s.sparse.Cap() {
			id, ok := s.sparse.Slot(it.pos)
			it.pos++
			if ok {
				it.cur = id
				return true
			}
		}
		return false
	default:
		if it.pos >= len(s.array) {
			return false
		}
		it.cur = s.array[it.pos]
		it.pos++
		return true
	}
}

// ID returns the id the iterator is positioned on.
func (it *Iterator) ID() int32 {
	return it.cur
}

// Err returns ErrConcurrentModification if iteration was cut short.
func (it *Iterator) Err() error {
	return it.err
}

// All returns the set's ids as a range-over-func sequence. A structural
// change to the set while ranging panics with ErrConcurrentModification.
func (s *Set) All() iter.Seq[int32] {
	return func(yield func(int32) bool) {
		it := s.Iterator()
		for it.Next() {
			if !yield(it.ID()) {
				return
			}
		}
		if it.Err() != nil {
			panic(it.Err())
		}
	}
}
