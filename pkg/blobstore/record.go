package blobstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/ulikunitz/xz"
)

// Key layout. Record and payload keys end in the big-endian id so that a
// prefix scan visits records in id order.
var (
	seqKey    = []byte("bin:seq")
	recPrefix = []byte("bin:rec:")
	datPrefix = []byte("bin:dat:")
)

func idKey(prefix []byte, id int64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(id))
	return k
}

func idFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func recKey(id int64) []byte { return idKey(recPrefix, id) }
func datKey(id int64) []byte { return idKey(datPrefix, id) }

func locKey(locator int64, mimetype string) []byte {
	return []byte(fmt.Sprintf("bin:loc:%x:%s", uint64(locator), mimetype))
}

func hashKey(sha1 string, length int64, mimetype string) []byte {
	return []byte(fmt.Sprintf("bin:hash:%s:%x:%s", sha1, length, mimetype))
}

// record is the persisted form of a resource, minus its payload.
type record struct {
	ID         int64   `cbor:"1,keyasint"`
	Mimetype   string  `cbor:"2,keyasint"`
	Metadata   string  `cbor:"3,keyasint"`
	SHA1       string  `cbor:"4,keyasint"`
	Length     int64   `cbor:"5,keyasint"`
	RefCount   int64   `cbor:"6,keyasint"`
	Locators   []int64 `cbor:"7,keyasint,omitempty"`
	Compressed bool    `cbor:"8,keyasint,omitempty"`
}

func (rec *record) hashKey() []byte {
	return hashKey(rec.SHA1, rec.Length, rec.Mimetype)
}

func (rec *record) addLocator(locator int64) {
	if !slices.Contains(rec.Locators, locator) {
		rec.Locators = append(rec.Locators, locator)
	}
}

func (rec *record) dropLocator(locator int64) {
	rec.Locators = slices.DeleteFunc(rec.Locators, func(l int64) bool { return l == locator })
}

// getRecord returns nil if no record has the given id.
func getRecord(txn *badger.Txn, id int64) (*record, error) {
	item, err := txn.Get(recKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func putRecord(txn *badger.Txn, rec *record) error {
	val, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(recKey(rec.ID), val)
}

// getIndex reads an id stored under an index key.
func getIndex(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("index %q holds %d bytes", key, len(val))
		}
		id = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return id, err == nil, err
}

func setIndex(txn *badger.Txn, key []byte, id int64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(id))
	return txn.Set(key, val)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
