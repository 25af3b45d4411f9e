package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"realmsdb/pkg/blobstore"
	"realmsdb/pkg/config"
	"realmsdb/pkg/cube"
	"realmsdb/pkg/dberr"
	"realmsdb/pkg/octree"

	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBadIndexName  = errors.New("index name must be alphanumeric")
	ErrIndexExists   = errors.New("index already exists")
	ErrIndexNotFound = errors.New("index not found")
)

var nonWord = regexp.MustCompile(`\W`)

// Index is an opened octree index whose values are the stored ids.
type Index = octree.Reader[int32]

// Database ties one blob store to the octree indexes of a data directory.
type Database struct {
	basepath  string
	cfg       config.Config
	types     *blobstore.Registry
	partition cube.Partition
	log       *logrus.Logger

	mu      sync.RWMutex
	blobs   *blobstore.Store
	indexes map[string]*Index
}

func identity(id int32) (int32, error) { return id, nil }

// Open opens the data directory named by cfg, creating it if needed. Every
// index file already in the directory is opened.
func Open(cfg config.Config, types *blobstore.Registry, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if types == nil {
		types = DefaultTypes()
	}
	folder := cfg.DataDir
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	if err := os.MkdirAll(folder, 0775); err != nil {
		return nil, dberr.Wrap("create data dir", folder, err)
	}
	db := &Database{
		basepath:  folder,
		cfg:       cfg,
		types:     types,
		partition: cube.Partition{Edge: cfg.CubeEdge},
		log:       logger,
		indexes:   make(map[string]*Index),
	}
	if err := db.openBlobs(); err != nil {
		return nil, err
	}
	if err := db.openIndexes(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.WithFields(logrus.Fields{"dir": folder, "indexes": len(db.indexes)}).Info("database opened")
	return db, nil
}

func (db *Database) openBlobs() error {
	blobs, err := blobstore.Open(blobstore.Config{
		Dir:         filepath.Join(db.basepath, config.BlobDir),
		InMemory:    db.cfg.BlobStore.InMemory,
		SyncWrites:  db.cfg.BlobStore.SyncWrites,
		CacheSize:   db.cfg.BlobStore.CacheSize,
		Compression: db.cfg.BlobStore.Compression,
		Logger:      db.log,
	}, db.types)
	if err != nil {
		return err
	}
	db.blobs = blobs
	return nil
}

// openIndexes opens the index files of the data directory concurrently.
func (db *Database) openIndexes() error {
	paths, err := filepath.Glob(filepath.Join(db.basepath, "*"+config.IndexExt))
	if err != nil {
		return err
	}
	var g errgroup.Group
	var mu sync.Mutex
	for _, path := range paths {
		path := path
		g.Go(func() error {
			idx, err := db.openIndex(path)
			if err != nil {
				return err
			}
			mu.Lock()
			db.indexes[indexName(path)] = idx
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (db *Database) openIndex(path string) (*Index, error) {
	return octree.Open[int32](path, db.cfg.Octree.Banner, identity, octree.WithLogger(db.log))
}

func indexName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), config.IndexExt)
}

func (db *Database) indexPath(name string) string {
	return filepath.Join(db.basepath, name+config.IndexExt)
}

// Close each index, then the blob store.
func (db *Database) Close() (err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, idx := range db.indexes {
		if curErr := idx.Close(); err == nil {
			err = curErr
		}
		delete(db.indexes, name)
	}
	if db.blobs != nil {
		if curErr := db.blobs.Close(); err == nil {
			err = curErr
		}
		db.blobs = nil
	}
	return err
}

// CreateIndex writes the tree under root as a new index file and opens it.
func (db *Database) CreateIndex(name string, root octree.RootView[int32]) (*Index, error) {
	if name == "" || nonWord.MatchString(name) {
		return nil, ErrBadIndexName
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	path := db.indexPath(name)
	if _, ok := db.indexes[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, name)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, name)
	}
	w := octree.NewWriter[int32](db.cfg.Octree.Banner, func(id int32) int32 { return id }, octree.WithLogger(db.log))
	if err := w.WriteFile(path, root); err != nil {
		return nil, err
	}
	idx, err := db.openIndex(path)
	if err != nil {
		return nil, err
	}
	db.indexes[name] = idx
	return idx, nil
}

// GetIndex returns an opened index, opening it from disk if its file
// appeared after Open.
func (db *Database) GetIndex(name string) (*Index, error) {
	db.mu.RLock()
	idx, ok := db.indexes[name]
	db.mu.RUnlock()
	if ok {
		return idx, nil
	}
	if name == "" || nonWord.MatchString(name) {
		return nil, ErrBadIndexName
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if idx, ok := db.indexes[name]; ok {
		return idx, nil
	}
	path := db.indexPath(name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	idx, err := db.openIndex(path)
	if err != nil {
		return nil, err
	}
	db.indexes[name] = idx
	return idx, nil
}

// DropIndex closes an index and removes its file.
func (db *Database) DropIndex(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	idx, ok := db.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	delete(db.indexes, name)
	if err := idx.Close(); err != nil {
		return err
	}
	return dberr.Wrap("remove index", idx.Path(), os.Remove(idx.Path()))
}

// Indexes returns the names of the opened indexes, sorted.
func (db *Database) Indexes() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.indexes))
	for name := range db.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Blobs returns the blob store.
func (db *Database) Blobs() *blobstore.Store {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.blobs
}

// Partition returns the cube partition configured for the world.
func (db *Database) Partition() cube.Partition {
	return db.partition
}

// Config returns the configuration the database was opened with.
func (db *Database) Config() config.Config {
	return db.cfg
}

// Returns the basepath of the database.
func (db *Database) GetBasePath() string {
	return db.basepath
}

// Backup copies the data directory to dst. An on-disk blob store is closed
// for the copy so badger's files are consistent, and reopened afterwards;
// stores obtained from Blobs before the backup are closed by it.
func (db *Database) Backup(dst string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.cfg.BlobStore.InMemory {
		return dberr.Wrap("backup", dst, copy.Copy(db.basepath, dst))
	}
	if err := db.blobs.Close(); err != nil {
		return err
	}
	copyErr := copy.Copy(db.basepath, dst)
	if err := db.openBlobs(); err != nil {
		return err
	}
	if copyErr != nil {
		return dberr.Wrap("backup", dst, copyErr)
	}
	db.log.WithFields(logrus.Fields{"from": db.basepath, "to": dst}).Info("backup written")
	return nil
}
