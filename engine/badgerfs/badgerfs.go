// Package badgerfs implements engine.Engine on top of a badger key/value
// store. Object records, directory entries and data blocks live in one
// keyspace; reference counts live in memory.
package badgerfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/util"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// BlockSize is the size of a data block.
	BlockSize = 4096

	// DefaultCapacity is the advertised pool size when none is configured.
	DefaultCapacity = 16 << 30

	// MaxFileSize bounds the size of a regular file.
	MaxFileSize = 1 << 40

	rootGeneration = 1
)

// Options configures a pool.
type Options struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Capacity   uint64

	// RootUID and RootGID own the root directory of a new pool.
	RootUID uint32
	RootGID uint32
}

// Engine is a badger backed object store.
type Engine struct {
	db   *badger.DB
	opts Options
	guid uuid.UUID
	fsid uint64
	ids  *util.IDAllocator
	gens *util.IDAllocator

	// mu serializes mutations and guards vnodes.
	mu     sync.Mutex
	vnodes map[engine.ObjectID]*vnode

	fmu    sync.Mutex
	active int
	closed atomic.Bool

	now func() time.Time
}

var _ engine.Engine = (*Engine)(nil)

func openDB(opts Options) (*badger.DB, error) {
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil).WithSyncWrites(opts.SyncWrites)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}
	return db, nil
}

// Open opens an existing pool.
func Open(opts Options) (*Engine, error) {
	db, err := openDB(opts)
	if err != nil {
		return nil, err
	}
	var pool poolRecord
	err = db.View(func(txn *badger.Txn) error {
		return getRecord(txn, poolKey, &pool)
	})
	if errors.Is(err, unix.ENOENT) {
		db.Close()
		return nil, ErrNotFormatted
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read pool record: %w", err)
	}
	return newEngine(db, opts, pool)
}

// Format creates a pool with an empty root directory and opens it.
func Format(opts Options) (*Engine, error) {
	db, err := openDB(opts)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixNano()
	pool := poolRecord{
		GUID:    uuid.New().String(),
		HighID:  uint64(engine.RootID),
		HighGen: rootGeneration,
		Created: now,
	}
	root := objectRecord{
		Gen:    rootGeneration,
		Type:   engine.TypeDir,
		Mode:   0o755,
		UID:    opts.RootUID,
		GID:    opts.RootGID,
		Nlink:  2,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Parent: engine.RootID,
	}
	err = db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(poolKey); err == nil {
			return ErrFormatted
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putRecord(txn, poolKey, &pool); err != nil {
			return err
		}
		return putRecord(txn, objectKey(engine.RootID), &root)
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return newEngine(db, opts, pool)
}

func newEngine(db *badger.DB, opts Options, pool poolRecord) (*Engine, error) {
	guid, err := uuid.Parse(pool.GUID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pool guid %q: %v", ErrCorrupt, pool.GUID, err)
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Engine{
		db:     db,
		opts:   opts,
		guid:   guid,
		fsid:   binary.BigEndian.Uint64(guid[:8]),
		ids:    util.NewIDAllocator(pool.HighID),
		gens:   util.NewIDAllocator(pool.HighGen),
		vnodes: make(map[engine.ObjectID]*vnode),
		now:    time.Now,
	}, nil
}

// GUID identifies the pool.
func (e *Engine) GUID() uuid.UUID {
	return e.guid
}

// Enter registers an operation in progress.
func (e *Engine) Enter() error {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	if e.closed.Load() {
		return unix.EIO
	}
	e.active++
	return nil
}

// Exit ends an operation started with Enter.
func (e *Engine) Exit() {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	e.active--
}

// Unmount closes the pool. Without force it refuses with EBUSY while
// operations are in progress or objects are held. Unmounting a closed pool
// does nothing.
func (e *Engine) Unmount(force bool) error {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	if e.closed.Load() {
		return nil
	}
	if !force {
		if e.active > 0 {
			return unix.EBUSY
		}
		e.mu.Lock()
		held := len(e.vnodes)
		e.mu.Unlock()
		if held > 0 {
			return unix.EBUSY
		}
	}
	if err := e.db.Close(); err != nil {
		return ioError(err)
	}
	e.closed.Store(true)
	return nil
}

// Shutdown unmounts the pool regardless of outstanding references.
func (e *Engine) Shutdown() error {
	return e.Unmount(true)
}

// StatFS reports capacity derived from the store's on-disk size.
func (e *Engine) StatFS() (engine.FSStat, error) {
	var files uint64
	err := e.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixObject}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			files++
		}
		return nil
	})
	if err != nil {
		return engine.FSStat{}, ioError(err)
	}

	lsm, vlog := e.db.Size()
	used := uint64(lsm + vlog)
	blocks := e.opts.Capacity / BlockSize
	var free uint64
	if used < e.opts.Capacity {
		free = (e.opts.Capacity - used) / BlockSize
	}
	maxFiles := uint64(1) << 32
	return engine.FSStat{
		BlockSize:    BlockSize,
		FragmentSize: BlockSize,
		Blocks:       blocks,
		BlocksFree:   free,
		BlocksAvail:  free,
		Files:        maxFiles,
		FilesFree:    maxFiles - files,
		FilesAvail:   maxFiles - files,
		FSID:         e.fsid,
		NameMax:      engine.MaxNameLen - 1,
	}, nil
}

// Fsync flushes the value log unless every write is already synchronous.
func (e *Engine) Fsync(obj engine.Object, flags engine.FileFlag, cred engine.Cred) error {
	if e.opts.SyncWrites || e.opts.InMemory {
		return nil
	}
	if err := e.db.Sync(); err != nil {
		return ioError(err)
	}
	return nil
}

func ioError(err error) error {
	return fmt.Errorf("badgerfs: %w: %v", unix.EIO, err)
}

func getRecord(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return unix.ENOENT
	}
	if err != nil {
		return ioError(err)
	}
	return item.Value(func(val []byte) error {
		if err := unmarshal(val, v); err != nil {
			return fmt.Errorf("%w: key %x: %v", ErrCorrupt, key, err)
		}
		return nil
	})
}

func putRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return ioError(err)
	}
	return nil
}

func loadObject(txn *badger.Txn, id engine.ObjectID) (*objectRecord, error) {
	var rec objectRecord
	if err := getRecord(txn, objectKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func storeObject(txn *badger.Txn, id engine.ObjectID, rec *objectRecord) error {
	return putRecord(txn, objectKey(id), rec)
}

// update runs fn in a read-write transaction, mapping store failures to EIO.
func (e *Engine) update(fn func(txn *badger.Txn) error) error {
	err := e.db.Update(fn)
	var errno unix.Errno
	if err == nil || errors.As(err, &errno) || errors.Is(err, ErrCorrupt) {
		return err
	}
	return ioError(err)
}

func (e *Engine) view(fn func(txn *badger.Txn) error) error {
	err := e.db.View(fn)
	var errno unix.Errno
	if err == nil || errors.As(err, &errno) || errors.Is(err, ErrCorrupt) {
		return err
	}
	return ioError(err)
}

// allocate reserves an object id and generation and persists the new
// high-water marks in txn.
func (e *Engine) allocate(txn *badger.Txn) (engine.ObjectID, uint64, error) {
	id, err := e.ids.Next()
	if err != nil {
		return 0, 0, unix.ENOSPC
	}
	gen, err := e.gens.Next()
	if err != nil {
		return 0, 0, unix.ENOSPC
	}
	var pool poolRecord
	if err := getRecord(txn, poolKey, &pool); err != nil {
		return 0, 0, err
	}
	pool.HighID = e.ids.Highest()
	pool.HighGen = e.gens.Highest()
	if err := putRecord(txn, poolKey, &pool); err != nil {
		return 0, 0, err
	}
	return engine.ObjectID(id), gen, nil
}
