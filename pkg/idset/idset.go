// Package idset implements a set of small non-negative ids drawn from a
// known universe [0, N). The set keeps its members in a hash set while it is
// small and in a bit vector once it holds at least N/64 ids, falling back to
// the hash set when it shrinks to N/72 ids or fewer.
package idset

import (
	"errors"
	"fmt"
	"sync"

	"realmsdb/pkg/hash"

	"github.com/bits-and-blooms/bitset"
)

var (
	// Error for mutating an immutable or array backed set.
	ErrImmutable = errors.New("id set is immutable")
	// Error for an iterator whose set changed underneath it.
	ErrConcurrentModification = errors.New("id set modified during iteration")
	// Error for adding an id outside [0, universe).
	ErrOutOfUniverse = errors.New("id outside of the set's universe")
	// Error for an invalid construction argument.
	ErrInvalidArgument = errors.New("invalid id set argument")
)

type mode uint8

const (
	sparseMode mode = iota
	denseMode
	arrayMode
)

// Set is an adaptive id set. A mutable Set must be externally synchronized
// if shared; immutable and array backed sets may be read concurrently.
type Set struct {
	universe  int
	mode      mode
	sparse    *hash.IntSet
	dense     *bitset.BitSet
	array     []int32
	size      int
	modCount  int
	immutable bool
}

// Thresholds for the storage switch.
func upSizeAt(universe int) int {
	if up := universe / 64; up > 0 {
		return up
	}
	return 1
}

func downSizeAt(universe int) int {
	return universe / 72
}

// New returns an empty, sparse set over [0, universe).
func New(universe int) *Set {
	if universe < 0 {
		panic(fmt.Errorf("%w: negative universe %d", ErrInvalidArgument, universe))
	}
	return &Set{universe: universe, mode: sparseMode, sparse: hash.NewIntSet(0)}
}

// WithCapacity returns an empty set sized for capacity ids. The set starts
// dense when capacity reaches the dense threshold.
func WithCapacity(universe, capacity int) (*Set, error) {
	if universe < 0 || capacity < 0 || capacity > universe {
		return nil, fmt.Errorf("%w: capacity %d for universe %d", ErrInvalidArgument, capacity, universe)
	}
	s := &Set{universe: universe}
	if capacity >= upSizeAt(universe) {
		s.mode = denseMode
		s.dense = bitset.New(uint(universe))
	} else {
		s.mode = sparseMode
		s.sparse = hash.NewIntSet(capacity)
	}
	return s, nil
}

var all sync.Map // universe -> *Set

// AllOf returns the immutable set holding every id in [0, universe). There
// is one such set per universe per process.
func AllOf(universe int) *Set {
	if s, ok := all.Load(universe); ok {
		return s.(*Set)
	}
	b := bitset.New(uint(universe))
	for i := 0; i < universe; i++ {
		b.Set(uint(i))
	}
	s, _ := all.LoadOrStore(universe, &Set{
		universe:  universe,
		mode:      denseMode,
		dense:     b,
		size:      universe,
		immutable: true,
	})
	return s.(*Set)
}

// Empty is the immutable set without ids.
var Empty = &Set{mode: sparseMode, sparse: hash.NewIntSet(0), immutable: true}

// Wrap returns a read-only view over ids. The slice is not copied; the
// caller must not change it while the view is in use, and the ids must be
// distinct.
func Wrap(ids []int32) *Set {
	return WrapRange(ids, 0, len(ids))
}

// WrapRange returns a read-only view over ids[off:off+length].
func WrapRange(ids []int32, off, length int) *Set {
	if off < 0 || length < 0 || off+length > len(ids) {
		panic(fmt.Errorf("%w: window [%d, %d) of %d ids", ErrInvalidArgument, off, off+length, len(ids)))
	}
	return &Set{
		mode:      arrayMode,
		array:     ids[off : off+length : off+length],
		size:      length,
		immutable: true,
	}
}

// Universe returns the exclusive upper bound on ids. Array views report 0.
func (s *Set) Universe() int {
	return s.universe
}

// Size returns the number of ids in the set.
func (s *Set) Size() int {
	return s.size
}

// IsEmpty reports whether the set has no ids.
func (s *Set) IsEmpty() bool {
	return s.size == 0
}

// IsDense reports whether the set is backed by a bit vector.
func (s *Set) IsDense() bool {
	return s.mode == denseMode
}

// IsImmutable reports whether mutation is refused.
func (s *Set) IsImmutable() bool {
	return s.immutable
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id int32) bool {
	if id < 0 {
		return false
	}
	switch s.mode {
	case denseMode:
		return int(id) < s.universe && s.dense.Test(uint(id))
	case sparseMode:
		return s.sparse.Contains(id)
	default:
		for _, v := range s.array {
			if v == id {
				return true
			}
		}
		return false
	}
}

func (s *Set) checkMutable() {
	if s.immutable {
		panic(ErrImmutable)
	}
}

// Add inserts id, reporting whether the set changed.
func (s *Set) Add(id int32) bool {
	s.checkMutable()
	if id < 0 || int(id) >= s.universe {
		panic(fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfUniverse, id, s.universe))
	}
	if s.Contains(id) {
		return false
	}
	if s.mode == sparseMode && s.size+1 >= upSizeAt(s.universe) {
		s.toDense()
	}
	s.modCount++
	if s.mode == denseMode {
		s.dense.Set(uint(id))
	} else {
		s.sparse.Add(id)
	}
	s.size++
	return true
}

// Remove deletes id, reporting whether the set changed.
func (s *Set) Remove(id int32) bool {
	s.checkMutable()
	if !s.Contains(id) {
		return false
	}
	if s.mode == denseMode {
		s.dense.Clear(uint(id))
	} else {
		s.sparse.Remove(id)
	}
	s.size--
	s.modCount++
	if s.mode == denseMode && s.size <= downSizeAt(s.universe) {
		s.toSparse()
	}
	return true
}

// Clear removes every id. The set returns to sparse storage.
func (s *Set) Clear() {
	s.checkMutable()
	s.mode = sparseMode
	s.dense = nil
	s.sparse = hash.NewIntSet(0)
	s.size = 0
	s.modCount++
}

func (s *Set) toDense() {
	b := bitset.New(uint(s.universe))
	s.sparse.Each(func(id int32) bool {
		b.Set(uint(id))
		return true
	})
	s.mode = denseMode
	s.dense = b
	s.sparse = nil
	s.modCount++
}

func (s *Set) toSparse() {
	h := hash.NewIntSet(s.size)
	for i, ok := s.dense.NextSet(0); ok; i, ok = s.dense.NextSet(i + 1) {
		h.Add(int32(i))
	}
	s.mode = sparseMode
	s.sparse = h
	s.dense = nil
	s.modCount++
}

// Clone returns a deep copy in the same storage mode. Immutable and array
// backed sets return themselves.
func (s *Set) Clone() *Set {
	if s.immutable {
		return s
	}
	c := &Set{universe: s.universe, mode: s.mode, size: s.size}
	if s.mode == denseMode {
		c.dense = s.dense.Clone()
	} else {
		c.sparse = s.sparse.Clone()
	}
	return c
}

// ToSlice returns the ids in iteration order.
func (s *Set) ToSlice() []int32 {
	out := make([]int32, 0, s.size)
	for it := s.Iterator(); it.Next(); {
		out = append(out, it.ID())
	}
	return out
}

func (s *Set) String() string {
	return fmt.Sprint(s.ToSlice())
}
