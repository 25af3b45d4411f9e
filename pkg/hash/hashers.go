package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// Hasher maps a key onto a slot in [0, size).
type Hasher func(key int64, size int64) uint

// getHash uses the given hasher function to calculate and return
// the hash of a key modded by the size.
func getHash(hasher func(b []byte) uint64, key int64, size int64) uint {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return uint(hasher(buf[:]) % uint64(size))
}

// XxHasher returns the xxHash hash of the given key, bounded by size.
func XxHasher(key int64, size int64) uint {
	return getHash(xxhash.Sum64, key, size)
}

// MurmurHasher returns the MurmurHash3 hash of the given key, bounded by size.
func MurmurHasher(key int64, size int64) uint {
	return getHash(murmur3.Sum64, key, size)
}
