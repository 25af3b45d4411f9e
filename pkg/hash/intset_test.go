package hash_test

import (
	"sort"
	"testing"

	"realmsdb/pkg/hash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHashersInRange(t *testing.T) {
	for key := int64(-50); key < 50; key++ {
		assert.Less(t, hash.XxHasher(key, 7), uint(7))
		assert.Less(t, hash.MurmurHasher(key, 16), uint(16))
	}
	assert.Equal(t, hash.XxHasher(42, 1024), hash.XxHasher(42, 1024))
}

func TestIntSetBasics(t *testing.T) {
	s := hash.NewIntSet(0)
	assert.True(t, s.Add(5))
	assert.False(t, s.Add(5))
	assert.True(t, s.Contains(5))
	assert.False(t, s.Contains(6))
	assert.False(t, s.Contains(-1))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Remove(5))
	assert.False(t, s.Remove(5))
	assert.Equal(t, 0, s.Len())
	assert.PanicsWithError(t, hash.ErrNegativeKey.Error(), func() { s.Add(-3) })
}

func TestIntSetGrowsAndStaysHalfFull(t *testing.T) {
	s := hash.NewIntSetWithHasher(0, hash.MurmurHasher)
	for i := int32(0); i < 1000; i++ {
		require.True(t, s.Add(i*7))
		require.LessOrEqual(t, 2*s.Len(), s.Cap())
	}
	for i := int32(0); i < 1000; i++ {
		require.True(t, s.Contains(i*7), "missing %d", i*7)
	}
}

func TestIntSetCloneIsIndependent(t *testing.T) {
	s := hash.NewIntSet(4)
	s.Add(1)
	s.Add(2)
	c := s.Clone()
	s.Remove(1)
	s.Add(3)
	assert.True(t, c.Contains(1))
	assert.False(t, c.Contains(3))
	assert.Equal(t, 2, c.Len())
}

func collect(s *hash.IntSet) []int {
	var out []int
	s.Each(func(k int32) bool {
		out = append(out, int(k))
		return true
	})
	sort.Ints(out)
	return out
}

func TestIntSetMatchesMap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hasher := hash.XxHasher
		if rapid.Bool().Draw(t, "murmur") {
			hasher = hash.MurmurHasher
		}
		s := hash.NewIntSetWithHasher(0, hasher)
		model := map[int32]bool{}

		t.Repeat(map[string]func(*rapid.T){
			"add": func(t *rapid.T) {
				k := int32(rapid.IntRange(0, 200).Draw(t, "k"))
				if s.Add(k) == model[k] {
					t.Fatalf("Add(%d) disagrees with model", k)
				}
				model[k] = true
			},
			"remove": func(t *rapid.T) {
				k := int32(rapid.IntRange(0, 200).Draw(t, "k"))
				if s.Remove(k) != model[k] {
					t.Fatalf("Remove(%d) disagrees with model", k)
				}
				delete(model, k)
			},
			"clear": func(t *rapid.T) {
				if rapid.IntRange(0, 20).Draw(t, "p") == 0 {
					s.Clear()
					model = map[int32]bool{}
				}
			},
			"": func(t *rapid.T) {
				if s.Len() != len(model) {
					t.Fatalf("len %d, want %d", s.Len(), len(model))
				}
				for k := range model {
					if !s.Contains(k) {
						t.Fatalf("lost key %d", k)
					}
				}
				if len(collect(s)) != len(model) {
					t.Fatalf("iteration saw %d keys, want %d", len(collect(s)), len(model))
				}
			},
		})
	})
}
