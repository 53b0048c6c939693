package badgerfs

import (
	"errors"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sys/unix"
)

// freeBlocks deletes every block of id at or after index from.
func freeBlocks(txn *badger.Txn, id engine.ObjectID, from uint64) error {
	prefix := blockPrefix(id)
	var doomed [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	for it.Seek(blockKey(id, from)); it.ValidForPrefix(prefix); it.Next() {
		doomed = append(doomed, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range doomed {
		if err := txn.Delete(k); err != nil {
			return ioError(err)
		}
	}
	return nil
}

func loadBlock(txn *badger.Txn, id engine.ObjectID, blk uint64) ([]byte, error) {
	item, err := txn.Get(blockKey(id, blk))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError(err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, ioError(err)
	}
	return data, nil
}

// truncate sets the size of a regular file, dropping data past the new end.
func truncate(txn *badger.Txn, id engine.ObjectID, rec *objectRecord, size uint64) error {
	if size > MaxFileSize {
		return unix.EFBIG
	}
	if size < rec.Size {
		keep := (size + BlockSize - 1) / BlockSize
		if err := freeBlocks(txn, id, keep); err != nil {
			return err
		}
		if tail := size % BlockSize; tail != 0 {
			last := size / BlockSize
			data, err := loadBlock(txn, id, last)
			if err != nil {
				return err
			}
			if uint64(len(data)) > tail {
				if err := txn.Set(blockKey(id, last), data[:tail]); err != nil {
					return ioError(err)
				}
			}
		}
	}
	rec.Size = size
	return nil
}

// readRange returns n bytes at off. Holes read as zeros.
func readRange(txn *badger.Txn, id engine.ObjectID, off int64, n int) ([]byte, error) {
	out := make([]byte, n)
	pos := 0
	for pos < n {
		abs := uint64(off) + uint64(pos)
		blk := abs / BlockSize
		within := int(abs % BlockSize)
		chunk := min(BlockSize-within, n-pos)
		data, err := loadBlock(txn, id, blk)
		if err != nil {
			return nil, err
		}
		if within < len(data) {
			copy(out[pos:pos+chunk], data[within:])
		}
		pos += chunk
	}
	return out, nil
}

func writeRange(txn *badger.Txn, id engine.ObjectID, off int64, p []byte) error {
	pos := 0
	for pos < len(p) {
		abs := uint64(off) + uint64(pos)
		blk := abs / BlockSize
		within := int(abs % BlockSize)
		chunk := min(BlockSize-within, len(p)-pos)
		data, err := loadBlock(txn, id, blk)
		if err != nil {
			return err
		}
		if need := within + chunk; len(data) < need {
			grown := make([]byte, need)
			copy(grown, data)
			data = grown
		}
		copy(data[within:], p[pos:pos+chunk])
		if err := txn.Set(blockKey(id, blk), data); err != nil {
			return ioError(err)
		}
		pos += chunk
	}
	return nil
}

func checkRegular(typ engine.ObjectType) error {
	switch typ {
	case engine.TypeRegular:
		return nil
	case engine.TypeDir:
		return unix.EISDIR
	default:
		return unix.EINVAL
	}
}

// Read copies file data at uio.Offset into uio. Reads past end of file
// transfer nothing.
func (e *Engine) Read(obj engine.Object, uio *engine.UIO, flags engine.FileFlag, cred engine.Cred) error {
	v := asVnode(obj)
	if flags&engine.FRead == 0 {
		return unix.EBADF
	}
	if err := checkRegular(v.typ); err != nil {
		return err
	}
	if uio.Offset < 0 {
		return unix.EINVAL
	}
	var data []byte
	err := e.view(func(txn *badger.Txn) error {
		rec, err := loadObject(txn, v.id)
		if err != nil {
			return err
		}
		if uint64(uio.Offset) >= rec.Size {
			return nil
		}
		n := min(uint64(uio.Resid), rec.Size-uint64(uio.Offset))
		data, err = readRange(txn, v.id, uio.Offset, int(n))
		return err
	})
	if err != nil {
		return err
	}
	uio.CopyOut(data)
	return nil
}

// Write stores all of uio at uio.Offset, or at end of file with FAppend.
func (e *Engine) Write(obj engine.Object, uio *engine.UIO, flags engine.FileFlag, cred engine.Cred) error {
	v := asVnode(obj)
	if flags&engine.FWrite == 0 {
		return unix.EBADF
	}
	if err := checkRegular(v.typ); err != nil {
		return err
	}
	if uio.Offset < 0 {
		return unix.EINVAL
	}
	data := make([]byte, uio.Resid)
	peek := *uio
	peek.CopyIn(data)

	e.mu.Lock()
	defer e.mu.Unlock()
	var off int64
	err := e.update(func(txn *badger.Txn) error {
		rec, err := loadObject(txn, v.id)
		if err != nil {
			return err
		}
		off = uio.Offset
		if flags&engine.FAppend != 0 {
			off = int64(rec.Size)
		}
		end := uint64(off) + uint64(len(data))
		if end > MaxFileSize {
			return unix.EFBIG
		}
		if err := writeRange(txn, v.id, off, data); err != nil {
			return err
		}
		rec.Size = max(rec.Size, end)
		now := e.now().UnixNano()
		rec.Mtime, rec.Ctime = now, now
		return storeObject(txn, v.id, rec)
	})
	if err != nil {
		return err
	}
	uio.Offset = off + int64(len(data))
	uio.Resid = 0
	return nil
}

// Space frees the file from start to its end; the size becomes start.
func (e *Engine) Space(obj engine.Object, start int64, flags engine.FileFlag, cred engine.Cred) error {
	v := asVnode(obj)
	if flags&engine.FWrite == 0 {
		return unix.EBADF
	}
	if v.typ != engine.TypeRegular {
		return unix.EINVAL
	}
	if start < 0 {
		return unix.EINVAL
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(txn *badger.Txn) error {
		rec, err := loadObject(txn, v.id)
		if err != nil {
			return err
		}
		if err := truncate(txn, v.id, rec, uint64(start)); err != nil {
			return err
		}
		now := e.now().UnixNano()
		rec.Mtime, rec.Ctime = now, now
		return storeObject(txn, v.id, rec)
	})
}

// Readlink copies a symlink target into uio.
func (e *Engine) Readlink(obj engine.Object, uio *engine.UIO, cred engine.Cred) error {
	v := asVnode(obj)
	if v.typ != engine.TypeSymlink {
		return unix.EINVAL
	}
	var target string
	err := e.view(func(txn *badger.Txn) error {
		rec, err := loadObject(txn, v.id)
		if err != nil {
			return err
		}
		target = rec.Target
		return nil
	})
	if err != nil {
		return err
	}
	uio.CopyOut([]byte(target))
	return nil
}
