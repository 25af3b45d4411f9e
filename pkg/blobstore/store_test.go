package blobstore_test

import (
	"bytes"
	"io"
	"testing"

	"realmsdb/pkg/blobstore"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

const vertex = "world/vertex"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func registry() *blobstore.Registry {
	reg := blobstore.NewRegistry()
	reg.MustRegister(blobstore.TypeDefinition{
		Mimetype: vertex,
		Fields:   map[string]blobstore.FieldKind{"vertices": blobstore.IntField, "kind": blobstore.StringField},
		Generate: func(data []byte) (map[string]any, error) {
			return map[string]any{"vertices": len(data) / 12, "kind": "mesh"}, nil
		},
	})
	reg.MustRegister(blobstore.TypeDefinition{Mimetype: "world/raw"})
	return reg
}

func openStore(t testing.TB, cfg blobstore.Config) *blobstore.Store {
	if cfg.Dir == "" {
		cfg.InMemory = true
	}
	cfg.Logger = quietLogger()
	s, err := blobstore.Open(cfg, registry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func payload(seed byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return data
}

func TestOversizedIntMetadataIsNotStored(t *testing.T) {
	reg := registry()
	reg.MustRegister(blobstore.TypeDefinition{
		Mimetype: "world/big",
		Fields:   map[string]blobstore.FieldKind{"n": blobstore.IntField},
		Generate: func([]byte) (map[string]any, error) {
			return map[string]any{"n": int64(1) << 33}, nil
		},
	})
	s, err := blobstore.Open(blobstore.Config{InMemory: true, Logger: quietLogger()}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Insert("world/big", 1, []byte("abc"))
	assert.ErrorIs(t, err, blobstore.ErrBadMetadata)
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Records)
	res, err := s.GetByLocator("world/big", 1)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestInsertDeduplicates(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 8})
	data := payload(1, 1024)

	a, err := s.Insert(vertex, 1, data)
	require.NoError(t, err)
	b, err := s.Insert(vertex, 2, data)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.EqualValues(t, 2, b.ReferenceCount())
	assert.ElementsMatch(t, []int64{1, 2}, b.Locators())

	byOne, err := s.GetByLocator(vertex, 1)
	require.NoError(t, err)
	byTwo, err := s.GetByLocator(vertex, 2)
	require.NoError(t, err)
	require.NotNil(t, byOne)
	require.NotNil(t, byTwo)
	assert.Equal(t, byOne.ID(), byTwo.ID())
	assert.Equal(t, data, byOne.Data())
	assert.EqualValues(t, 1024, byOne.Length())
	assert.Len(t, byOne.SHA1(), 40)
	assert.Equal(t, map[string]any{"vertices": 85, "kind": "mesh"}, byOne.Metadata())

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Records)
	assert.EqualValues(t, 2, st.References)
	assert.EqualValues(t, 1024, st.Bytes)
}

func TestSameContentDifferentTypes(t *testing.T) {
	s := openStore(t, blobstore.Config{})
	data := payload(7, 64)
	a, err := s.Insert(vertex, 1, data)
	require.NoError(t, err)
	b, err := s.Insert("world/raw", 1, data)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Empty(t, b.Metadata())
}

func TestMetadataIsCopied(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 4})
	res, err := s.Insert(vertex, 1, payload(0, 24))
	require.NoError(t, err)
	md := res.Metadata()
	md["kind"] = "changed"

	got, err := s.Get(res.ID())
	require.NoError(t, err)
	assert.Equal(t, "mesh", got.Metadata()["kind"])
	assert.Equal(t, "mesh", res.Metadata()["kind"])
}

func TestMissesAreAbsent(t *testing.T) {
	s := openStore(t, blobstore.Config{})
	res, err := s.Get(42)
	assert.NoError(t, err)
	assert.Nil(t, res)
	res, err = s.GetByLocator(vertex, 42)
	assert.NoError(t, err)
	assert.Nil(t, res)

	_, err = s.GetByLocator("world/none", 1)
	assert.ErrorIs(t, err, blobstore.ErrUnknownType)
	_, err = s.Insert("world/none", 1, nil)
	assert.ErrorIs(t, err, blobstore.ErrUnknownType)
}

func TestDeleteReleasesReferences(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 8})
	data := payload(3, 100)
	a, err := s.Insert(vertex, 1, data)
	require.NoError(t, err)
	_, err = s.Insert(vertex, 2, data)
	require.NoError(t, err)

	require.NoError(t, s.Delete(a, 1))
	got, err := s.Get(a.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got.ReferenceCount())
	assert.Equal(t, []int64{2}, got.Locators())
	gone, err := s.GetByLocator(vertex, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)

	require.NoError(t, s.Delete(a, 2))
	got, err = s.Get(a.ID())
	require.NoError(t, err)
	assert.Nil(t, got)
	gone, err = s.GetByLocator(vertex, 2)
	require.NoError(t, err)
	assert.Nil(t, gone)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Records)

	// The hash key went with the record, so the same content is new again.
	c, err := s.Insert(vertex, 3, data)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), c.ID())
	assert.EqualValues(t, 1, c.ReferenceCount())

	require.NoError(t, s.Delete(a, 9))
}

func TestUpdateInPlace(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 8})
	old := payload(1, 48)
	res, err := s.Insert(vertex, 1, old)
	require.NoError(t, err)
	_, err = s.Get(res.ID())
	require.NoError(t, err)

	next := payload(2, 96)
	upd, err := s.Update(res, 1, next)
	require.NoError(t, err)
	assert.Equal(t, res.ID(), upd.ID())
	assert.NotEqual(t, res.SHA1(), upd.SHA1())
	assert.EqualValues(t, 1, upd.ReferenceCount())

	got, err := s.Get(res.ID())
	require.NoError(t, err)
	assert.Equal(t, next, got.Data())
	assert.Equal(t, 8, got.Metadata()["vertices"])

	again, err := s.Insert(vertex, 2, old)
	require.NoError(t, err)
	assert.NotEqual(t, res.ID(), again.ID())
	dup, err := s.Insert(vertex, 3, next)
	require.NoError(t, err)
	assert.Equal(t, res.ID(), dup.ID())
}

func TestUpdateSharedForks(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 8})
	data := payload(1, 32)
	res, err := s.Insert(vertex, 1, data)
	require.NoError(t, err)
	_, err = s.Insert(vertex, 2, data)
	require.NoError(t, err)

	upd, err := s.Update(res, 1, payload(9, 32))
	require.NoError(t, err)
	assert.NotEqual(t, res.ID(), upd.ID())
	assert.EqualValues(t, 1, upd.ReferenceCount())

	old, err := s.Get(res.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 1, old.ReferenceCount())
	assert.Equal(t, data, old.Data())
	assert.Equal(t, []int64{2}, old.Locators())

	one, err := s.GetByLocator(vertex, 1)
	require.NoError(t, err)
	assert.Equal(t, upd.ID(), one.ID())
	two, err := s.GetByLocator(vertex, 2)
	require.NoError(t, err)
	assert.Equal(t, res.ID(), two.ID())
}

func TestUpdateMergesIntoExisting(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 8})
	a, err := s.Insert(vertex, 1, payload(1, 32))
	require.NoError(t, err)
	b, err := s.Insert(vertex, 2, payload(2, 32))
	require.NoError(t, err)

	merged, err := s.Update(a, 1, payload(2, 32))
	require.NoError(t, err)
	assert.Equal(t, b.ID(), merged.ID())
	assert.EqualValues(t, 2, merged.ReferenceCount())
	assert.ElementsMatch(t, []int64{1, 2}, merged.Locators())

	gone, err := s.Get(a.ID())
	require.NoError(t, err)
	assert.Nil(t, gone)
	one, err := s.GetByLocator(vertex, 1)
	require.NoError(t, err)
	assert.Equal(t, b.ID(), one.ID())

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Records)
}

func TestUpdateSameContentRebinds(t *testing.T) {
	s := openStore(t, blobstore.Config{})
	data := payload(5, 16)
	res, err := s.Insert(vertex, 1, data)
	require.NoError(t, err)

	same, err := s.Update(res, 4, data)
	require.NoError(t, err)
	assert.Equal(t, res.ID(), same.ID())
	assert.EqualValues(t, 1, same.ReferenceCount())
	assert.ElementsMatch(t, []int64{1, 4}, same.Locators())
}

func TestUpdateOfPurgedResourceInserts(t *testing.T) {
	s := openStore(t, blobstore.Config{})
	res, err := s.Insert(vertex, 1, payload(1, 8))
	require.NoError(t, err)
	require.NoError(t, s.Delete(res, 1))

	upd, err := s.Update(res, 1, payload(2, 8))
	require.NoError(t, err)
	assert.NotEqual(t, res.ID(), upd.ID())
	assert.EqualValues(t, 1, upd.ReferenceCount())
}

func TestDuplicateLocator(t *testing.T) {
	s := openStore(t, blobstore.Config{})
	a, err := s.Insert(vertex, 1, payload(1, 8))
	require.NoError(t, err)

	_, err = s.Insert(vertex, 1, payload(2, 8))
	assert.ErrorIs(t, err, blobstore.ErrDuplicateKey)

	// The failed insert left nothing behind.
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Records)
	assert.EqualValues(t, 1, st.References)

	// Binding a locator the record already holds is fine.
	again, err := s.Insert(vertex, 1, payload(1, 8))
	require.NoError(t, err)
	assert.Equal(t, a.ID(), again.ID())
	assert.Equal(t, []int64{1}, again.Locators())
}

func TestIDsAreIncreasing(t *testing.T) {
	s := openStore(t, blobstore.Config{})
	var last int64
	for i := 0; i < 100; i++ {
		res, err := s.Insert(vertex, int64(i), payload(byte(i), 12))
		require.NoError(t, err)
		assert.Greater(t, res.ID(), last)
		last = res.ID()
	}
}

func TestPersistsCompressedPayloads(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("terrain "), 512)

	s, err := blobstore.Open(blobstore.Config{Dir: dir, Compression: true, Logger: quietLogger()}, registry())
	require.NoError(t, err)
	res, err := s.Insert(vertex, 7, data)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Insert(vertex, 8, data)
	assert.ErrorIs(t, err, blobstore.ErrClosed)

	s = openStore(t, blobstore.Config{Dir: dir, Compression: true})
	got, err := s.GetByLocator(vertex, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.ID(), got.ID())
	assert.Equal(t, data, got.Data())
	assert.Equal(t, res.SHA1(), got.SHA1())

	next, err := s.Insert(vertex, 8, payload(1, 10))
	require.NoError(t, err)
	assert.Greater(t, next.ID(), res.ID())
}

func TestEachVisitsInIDOrder(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 2})
	for i := 0; i < 5; i++ {
		_, err := s.Insert(vertex, int64(i), payload(byte(i), 12))
		require.NoError(t, err)
	}
	var ids []int64
	require.NoError(t, s.Each(func(r *blobstore.Resource) bool {
		ids = append(ids, r.ID())
		return len(ids) < 4
	}))
	require.Len(t, ids, 4)
	assert.IsIncreasing(t, ids)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.LessOrEqual(t, st.Cached, 2)
}

func TestConcurrentInserts(t *testing.T) {
	s := openStore(t, blobstore.Config{CacheSize: 16})
	data := payload(4, 256)
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 16; i++ {
				if _, err := s.Insert(vertex, int64(w*100+i), data); err != nil {
					return err
				}
				if _, err := s.GetByLocator(vertex, int64(w*100+i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	res, err := s.GetByLocator(vertex, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 128, res.ReferenceCount())
	assert.Len(t, res.Locators(), 128)
}

func TestReferenceCounting(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s, err := blobstore.Open(blobstore.Config{InMemory: true, CacheSize: 4, Logger: quietLogger()}, registry())
		if err != nil {
			rt.Fatal(err)
		}
		defer s.Close()
		held := map[int64]int{} // locator -> content seed
		n := rapid.IntRange(1, 40).Draw(rt, "ops")
		for i := 0; i < n; i++ {
			locator := rapid.Int64Range(0, 9).Draw(rt, "locator")
			if _, ok := held[locator]; ok {
				res, err := s.GetByLocator(vertex, locator)
				if err != nil || res == nil {
					rt.Fatalf("locator %d lost: %v", locator, err)
				}
				if err := s.Delete(res, locator); err != nil {
					rt.Fatal(err)
				}
				delete(held, locator)
				continue
			}
			seed := rapid.IntRange(0, 3).Draw(rt, "seed")
			if _, err := s.Insert(vertex, locator, payload(byte(seed), 20)); err != nil {
				rt.Fatal(err)
			}
			held[locator] = seed
		}

		refs := map[int]int64{}
		for _, seed := range held {
			refs[seed]++
		}
		st, err := s.Stats()
		if err != nil {
			rt.Fatal(err)
		}
		if st.Records != len(refs) || st.References != int64(len(held)) {
			rt.Fatalf("stats %+v, want %d records and %d references", st, len(refs), len(held))
		}
		for locator, seed := range held {
			res, err := s.GetByLocator(vertex, locator)
			if err != nil || res == nil {
				rt.Fatalf("locator %d: %v", locator, err)
			}
			if res.ReferenceCount() != refs[seed] {
				rt.Fatalf("locator %d has %d refs, want %d", locator, res.ReferenceCount(), refs[seed])
			}
		}
	})
}
