// Package hash provides the hashers used across the engine and an
// open-addressing set of non-negative int32 keys.
package hash

import "errors"

// Slot marker for an unused slot.
const emptySlot int32 = -1

// Smallest table the set allocates.
const minCapacity = 8

// Error for keys that cannot be stored.
var ErrNegativeKey = errors.New("intset keys must be non-negative")

// IntSet is a set of non-negative int32 keys stored in a linear-probing
// table kept at most half full. Deletion shifts the following run back, so
// the table never holds tombstones. Not safe for concurrent mutation.
type IntSet struct {
	slots  []int32
	n      int
	hasher Hasher
}

// NewIntSet returns an empty set sized for capacity keys, hashed with xxHash.
func NewIntSet(capacity int) *IntSet {
	return NewIntSetWithHasher(capacity, XxHasher)
}

// NewIntSetWithHasher returns an empty set using the given hasher.
func NewIntSetWithHasher(capacity int, hasher Hasher) *IntSet {
	s := &IntSet{hasher: hasher}
	s.slots = newSlots(tableSize(capacity))
	return s
}

// tableSize returns the power of two table size able to hold n keys.
func tableSize(n int) int {
	size := minCapacity
	for size < 2*n {
		size <<= 1
	}
	return size
}

func newSlots(size int) []int32 {
	slots := make([]int32, size)
	for i := range slots {
		slots[i] = emptySlot
	}
	return slots
}

func (s *IntSet) home(key int32) int {
	return int(s.hasher(int64(key), int64(len(s.slots))))
}

// find returns the slot holding key, or the empty slot where it would go.
func (s *IntSet) find(key int32) (int, bool) {
	mask := len(s.slots) - 1
	for i := s.home(key); ; i = (i + 1) & mask {
		switch s.slots[i] {
		case key:
			return i, true
		case emptySlot:
			return i, false
		}
	}
}

// Len returns the number of keys.
func (s *IntSet) Len() int {
	return s.n
}

// Contains reports whether key is in the set.
func (s *IntSet) Contains(key int32) bool {
	if key < 0 {
		return false
	}
	_, ok := s.find(key)
	return ok
}

// Add inserts key, returning false if it was already present.
func (s *IntSet) Add(key int32) bool {
	if key < 0 {
		panic(ErrNegativeKey)
	}
	i, ok := s.find(key)
	if ok {
		return false
	}
	if 2*(s.n+1) > len(s.slots) {
		s.rehash(2 * len(s.slots))
		i, _ = s.find(key)
	}
	s.slots[i] = key
	s.n++
	return true
}

// Remove deletes key, returning false if it was absent.
func (s *IntSet) Remove(key int32) bool {
	if key < 0 {
		return false
	}
	i, ok := s.find(key)
	if !ok {
		return false
	}
	mask := len(s.slots) - 1
	j := i
	for {
		j = (j + 1) & mask
		if s.slots[j] == emptySlot {
			break
		}
		k := s.home(s.slots[j])
		// Move slots[j] into the hole at i unless its home lies cyclically in (i, j].
		if (i <= j && (k <= i || k > j)) || (i > j && k <= i && k > j) {
			s.slots[i] = s.slots[j]
			i = j
		}
	}
	s.slots[i] = emptySlot
	s.n--
	return true
}

// Clear removes every key and shrinks the table back to its minimum.
func (s *IntSet) Clear() {
	s.slots = newSlots(minCapacity)
	s.n = 0
}

// Clone returns an independent copy of the set.
func (s *IntSet) Clone() *IntSet {
	slots := make([]int32, len(s.slots))
	copy(slots, s.slots)
	return &IntSet{slots: slots, n: s.n, hasher: s.hasher}
}

// Cap returns the number of slots in the table.
func (s *IntSet) Cap() int {
	return len(s.slots)
}

// Slot returns the key stored in slot i, if any.
func (s *IntSet) Slot(i int) (int32, bool) {
	if i < 0 || i >= len(s.slots) || s.slots[i] == emptySlot {
		return 0, false
	}
	return s.slots[i], true
}

// Each calls f on every key in slot order until f returns false.
func (s *IntSet) Each(f func(int32) bool) {
	for _, k := range s.slots {
		if k != emptySlot && !f(k) {
			return
		}
	}
}

func (s *IntSet) rehash(size int) {
	old := s.slots
	s.slots = newSlots(size)
	for _, k := range old {
		if k != emptySlot {
			i, _ := s.find(k)
			s.slots[i] = k
		}
	}
}
