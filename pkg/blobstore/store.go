// Package blobstore stores binary payloads by content. Identical payloads
// of the same mimetype share one record with a reference count, and
// callers find records again through int64 locators of their own.
package blobstore

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"

	"realmsdb/pkg/dberr"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// Error for binding a locator that another live record holds.
	ErrDuplicateKey = errors.New("duplicate locator")
	// Error for using a store after Close.
	ErrClosed = errors.New("blob store is closed")
)

// Config controls how a Store is opened.
type Config struct {
	Dir         string // Badger directory, ignored when InMemory
	InMemory    bool
	SyncWrites  bool
	CacheSize   int  // Resources kept in the LRU, 0 disables it
	Compression bool // xz-compress payloads at rest
	Logger      *logrus.Logger
}

// Stats summarises the contents of a store.
type Stats struct {
	Records    int
	References int64
	Bytes      int64
	Cached     int
}

// Store is a content-addressed blob store backed by badger. Reads may run
// concurrently; every mutation is a single badger transaction and
// mutations are serialized.
type Store struct {
	cfg   Config
	types *Registry
	db    *badger.DB
	seq   *badger.Sequence
	cache *cache
	log   *logrus.Entry

	mu     sync.Mutex // Serializes mutations
	closed bool
}

// Open opens or creates a store. Mimetypes are resolved through types.
func Open(cfg Config, types *Registry) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithFields(logrus.Fields{"component": "blobstore", "store": uuid.NewString()})

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(badgerLogger{log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, dberr.Wrap("open blob store", cfg.Dir, err)
	}
	seq, err := db.GetSequence(seqKey, 64)
	if err != nil {
		db.Close()
		return nil, dberr.Wrap("open blob store", cfg.Dir, err)
	}
	log.WithFields(logrus.Fields{"dir": cfg.Dir, "in_memory": cfg.InMemory}).Info("blob store opened")
	return &Store{
		cfg:   cfg,
		types: types,
		db:    db,
		seq:   seq,
		cache: newCache(cfg.CacheSize),
		log:   log,
	}, nil
}

// Close releases the id sequence and closes badger.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	seqErr := s.seq.Release()
	dbErr := s.db.Close()
	s.log.Info("blob store closed")
	if seqErr != nil {
		return dberr.Wrap("close blob store", s.cfg.Dir, seqErr)
	}
	return dberr.Wrap("close blob store", s.cfg.Dir, dbErr)
}

// Types returns the registry the store resolves mimetypes with.
func (s *Store) Types() *Registry {
	return s.types
}

// payload is a blob ready to be written.
type payload struct {
	typ      *Type
	data     []byte
	metadata string
	fields   map[string]any
	sha1     string
}

func (s *Store) prepare(typ *Type, data []byte) (*payload, error) {
	md, err := typ.GenerateMetadata(data)
	if err != nil {
		return nil, err
	}
	enc, err := typ.EncodeMetadata(md)
	if err != nil {
		return nil, err
	}
	// The decoded form is what readers of the record will see.
	fields, err := typ.DecodeMetadata(enc)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(data)
	return &payload{typ: typ, data: data, metadata: enc, fields: fields, sha1: hex.EncodeToString(sum[:])}, nil
}

func (p *payload) hashKey() []byte {
	return hashKey(p.sha1, int64(len(p.data)), p.typ.Mimetype())
}

// Insert stores data under locator. If a record with the same content and
// mimetype exists its reference count grows and it is returned instead of
// a new record.
func (s *Store) Insert(mimetype string, locator int64, data []byte) (*Resource, error) {
	typ, ok := s.types.Lookup(mimetype)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, mimetype)
	}
	p, err := s.prepare(typ, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var rec *record
	err = s.db.Update(func(txn *badger.Txn) error {
		rec, err = s.insert(txn, p, locator)
		return err
	})
	if err != nil {
		return nil, s.wrap("insert", err)
	}
	s.cache.remove(rec.ID)
	s.log.WithFields(logrus.Fields{"id": rec.ID, "locator": locator, "refs": rec.RefCount}).Debug("inserted")
	return newResource(rec, p.typ, p.fields, data), nil
}

func (s *Store) insert(txn *badger.Txn, p *payload, locator int64) (*record, error) {
	id, ok, err := getIndex(txn, p.hashKey())
	if err != nil {
		return nil, err
	}
	if ok {
		rec, err := getRecord(txn, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			rec.RefCount++
			if err := s.bind(txn, rec, locator); err != nil {
				return nil, err
			}
			return rec, putRecord(txn, rec)
		}
	}

	id, err = s.nextID()
	if err != nil {
		return nil, err
	}
	rec := &record{
		ID:       id,
		Mimetype: p.typ.Mimetype(),
		Metadata: p.metadata,
		SHA1:     p.sha1,
		Length:   int64(len(p.data)),
		RefCount: 1,
	}
	if err := s.putData(txn, rec, p.data); err != nil {
		return nil, err
	}
	if err := s.bind(txn, rec, locator); err != nil {
		return nil, err
	}
	if err := setIndex(txn, p.hashKey(), id); err != nil {
		return nil, err
	}
	return rec, putRecord(txn, rec)
}

// Update replaces the payload that res holds for locator. Other holders of
// a shared payload keep the old content.
func (s *Store) Update(res *Resource, locator int64, data []byte) (*Resource, error) {
	p, err := s.prepare(res.typ, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var rec *record
	err = s.db.Update(func(txn *badger.Txn) error {
		rec, err = s.update(txn, res.id, p, locator)
		return err
	})
	if err != nil {
		return nil, s.wrap("update", err)
	}
	s.cache.remove(res.id, rec.ID)
	s.log.WithFields(logrus.Fields{"old": res.id, "id": rec.ID, "locator": locator, "refs": rec.RefCount}).Debug("updated")
	return newResource(rec, p.typ, p.fields, data), nil
}

func (s *Store) update(txn *badger.Txn, id int64, p *payload, locator int64) (*record, error) {
	cur, err := getRecord(txn, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return s.insert(txn, p, locator)
	}

	otherID, ok, err := getIndex(txn, p.hashKey())
	if err != nil {
		return nil, err
	}
	if ok && otherID == cur.ID {
		if err := s.bind(txn, cur, locator); err != nil {
			return nil, err
		}
		return cur, putRecord(txn, cur)
	}
	if ok {
		other, err := getRecord(txn, otherID)
		if err != nil {
			return nil, err
		}
		if other != nil {
			other.RefCount++
			if err := unbind(txn, cur, locator); err != nil {
				return nil, err
			}
			if err := s.bind(txn, other, locator); err != nil {
				return nil, err
			}
			if err := putRecord(txn, other); err != nil {
				return nil, err
			}
			return other, s.release(txn, cur)
		}
	}

	if cur.RefCount <= 1 {
		if err := txn.Delete(cur.hashKey()); err != nil {
			return nil, err
		}
		cur.Metadata = p.metadata
		cur.SHA1 = p.sha1
		cur.Length = int64(len(p.data))
		if err := s.putData(txn, cur, p.data); err != nil {
			return nil, err
		}
		if err := setIndex(txn, p.hashKey(), cur.ID); err != nil {
			return nil, err
		}
		if err := s.bind(txn, cur, locator); err != nil {
			return nil, err
		}
		return cur, putRecord(txn, cur)
	}

	if err := unbind(txn, cur, locator); err != nil {
		return nil, err
	}
	if err := s.release(txn, cur); err != nil {
		return nil, err
	}
	return s.insert(txn, p, locator)
}

// Delete drops the reference that locator holds on res. The record and its
// payload go away with the last reference.
func (s *Store) Delete(res *Resource, locator int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	var refs int64 = -1
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := getRecord(txn, res.id)
		if err != nil || cur == nil {
			return err
		}
		if err := unbind(txn, cur, locator); err != nil {
			return err
		}
		refs = cur.RefCount - 1
		return s.release(txn, cur)
	})
	if err != nil {
		return s.wrap("delete", err)
	}
	s.cache.remove(res.id)
	s.log.WithFields(logrus.Fields{"id": res.id, "locator": locator, "refs": refs}).Debug("deleted")
	return nil
}

// Get returns the resource with the given id, or nil if there is none.
func (s *Store) Get(id int64) (*Resource, error) {
	if res := s.cache.get(id); res != nil {
		return res, nil
	}
	gen := s.cache.generation()
	var res *Resource
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = s.load(txn, id)
		return err
	})
	if err != nil {
		return nil, s.wrap("get", err)
	}
	if res != nil {
		s.cache.put(res, gen)
	}
	return res, nil
}

// GetByLocator returns the resource of the given mimetype bound to
// locator, or nil if there is none.
func (s *Store) GetByLocator(mimetype string, locator int64) (*Resource, error) {
	if _, ok := s.types.Lookup(mimetype); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, mimetype)
	}
	var id int64
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		id, found, err = getIndex(txn, locKey(locator, mimetype))
		return err
	})
	if err != nil {
		return nil, s.wrap("get", err)
	}
	if !found {
		return nil, nil
	}
	return s.Get(id)
}

// Stats scans every record.
func (s *Store) Stats() (Stats, error) {
	st := Stats{Cached: s.cache.len()}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rec, err := getRecord(txn, idFromKey(it.Item().Key()))
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			st.Records++
			st.References += rec.RefCount
			st.Bytes += rec.Length
		}
		return nil
	})
	return st, s.wrap("stats", err)
}

// Each calls f with every stored resource in id order until f returns false.
func (s *Store) Each(f func(*Resource) bool) error {
	var ids []int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, idFromKey(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return s.wrap("scan", err)
	}
	for _, id := range ids {
		res, err := s.Get(id)
		if err != nil {
			return err
		}
		if res != nil && !f(res) {
			return nil
		}
	}
	return nil
}

func (s *Store) nextID() (int64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

func (s *Store) putData(txn *badger.Txn, rec *record, data []byte) error {
	rec.Compressed = false
	if s.cfg.Compression {
		packed, err := compress(data)
		if err != nil {
			return err
		}
		data = packed
		rec.Compressed = true
	}
	return txn.Set(datKey(rec.ID), data)
}

// bind points locator at rec. Rebinding a locator rec already holds does
// nothing; one held by another live record is an error.
func (s *Store) bind(txn *badger.Txn, rec *record, locator int64) error {
	key := locKey(locator, rec.Mimetype)
	cur, ok, err := getIndex(txn, key)
	if err != nil {
		return err
	}
	if ok && cur != rec.ID {
		other, err := getRecord(txn, cur)
		if err != nil {
			return err
		}
		if other != nil {
			return fmt.Errorf("%w: locator %d of %s is bound to #%d", ErrDuplicateKey, locator, rec.Mimetype, cur)
		}
	}
	rec.addLocator(locator)
	if ok && cur == rec.ID {
		return nil
	}
	return setIndex(txn, key, rec.ID)
}

// unbind removes locator from rec if rec holds it.
func unbind(txn *badger.Txn, rec *record, locator int64) error {
	key := locKey(locator, rec.Mimetype)
	cur, ok, err := getIndex(txn, key)
	if err != nil {
		return err
	}
	rec.dropLocator(locator)
	if ok && cur == rec.ID {
		return txn.Delete(key)
	}
	return nil
}

// release drops one reference from rec and purges it at zero.
func (s *Store) release(txn *badger.Txn, rec *record) error {
	rec.RefCount--
	if rec.RefCount > 0 {
		return putRecord(txn, rec)
	}
	for _, l := range slices.Clone(rec.Locators) {
		if err := unbind(txn, rec, l); err != nil {
			return err
		}
	}
	if err := txn.Delete(rec.hashKey()); err != nil {
		return err
	}
	if err := txn.Delete(datKey(rec.ID)); err != nil {
		return err
	}
	s.log.WithField("id", rec.ID).Debug("purged")
	return txn.Delete(recKey(rec.ID))
}

func (s *Store) load(txn *badger.Txn, id int64) (*Resource, error) {
	rec, err := getRecord(txn, id)
	if err != nil || rec == nil {
		return nil, err
	}
	item, err := txn.Get(datKey(id))
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if rec.Compressed {
		if data, err = decompress(data); err != nil {
			return nil, err
		}
	}
	return s.resource(rec, data)
}

func (s *Store) resource(rec *record, data []byte) (*Resource, error) {
	typ, ok := s.types.Lookup(rec.Mimetype)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, rec.Mimetype)
	}
	md, err := typ.DecodeMetadata(rec.Metadata)
	if err != nil {
		return nil, err
	}
	return newResource(rec, typ, md, data), nil
}

// newResource builds the view of a committed record from metadata already
// decoded. Records sharing a payload share its metadata.
func newResource(rec *record, typ *Type, md map[string]any, data []byte) *Resource {
	return &Resource{
		id:       rec.ID,
		typ:      typ,
		metadata: md,
		sha1:     rec.SHA1,
		length:   rec.Length,
		data:     data,
		refs:     rec.RefCount,
		locators: append([]int64(nil), rec.Locators...),
	}
}

// wrap leaves contract errors alone and marks everything else as a
// storage failure.
func (s *Store) wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrBadMetadata) || errors.Is(err, ErrClosed) {
		return err
	}
	return dberr.Wrap(op, s.cfg.Dir, err)
}

// badgerLogger routes badger's log lines through logrus, one level down.
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.Entry.Debugf(format, args...)
}
