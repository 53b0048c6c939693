package badgerfs

import (
	"errors"
	"iter"
	"strings"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sys/unix"
)

// readDirBatch bounds how many entries ReadDir loads per transaction.
const readDirBatch = 64

// checkName validates a component that is about to be created or removed.
func checkName(name string) error {
	switch {
	case name == "":
		return unix.ENOENT
	case name == "." || name == "..":
		return unix.EINVAL
	case len(name) >= engine.MaxNameLen:
		return unix.ENAMETOOLONG
	case strings.ContainsAny(name, "/\x00"):
		return unix.EINVAL
	}
	return nil
}

func getDirent(txn *badger.Txn, dir engine.ObjectID, name string) (*direntRecord, error) {
	var ent direntRecord
	if err := getRecord(txn, direntKey(dir, name), &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

func putDirent(txn *badger.Txn, dir engine.ObjectID, name string, ent direntRecord) error {
	return putRecord(txn, direntKey(dir, name), &ent)
}

func deleteDirent(txn *badger.Txn, dir engine.ObjectID, name string) error {
	if err := txn.Delete(direntKey(dir, name)); err != nil {
		return ioError(err)
	}
	return nil
}

func dirEmpty(txn *badger.Txn, dir engine.ObjectID) bool {
	prefix := direntPrefix(dir)
	opts := badger.IteratorOptions{Prefix: prefix}
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Seek(prefix)
	return !it.ValidForPrefix(prefix)
}

// loadDir loads a live directory record.
func loadDir(txn *badger.Txn, id engine.ObjectID) (*objectRecord, error) {
	rec, err := loadObject(txn, id)
	if err != nil {
		return nil, err
	}
	if rec.Type != engine.TypeDir {
		return nil, unix.ENOTDIR
	}
	if rec.Nlink == 0 {
		return nil, unix.ENOENT
	}
	return rec, nil
}

// writableDir loads a directory the caller may add or remove names in.
func writableDir(txn *badger.Txn, id engine.ObjectID, cred engine.Cred) (*objectRecord, error) {
	rec, err := loadDir(txn, id)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(rec, engine.VWrite|engine.VExec, cred); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) touch(recs ...*objectRecord) {
	now := e.now().UnixNano()
	for _, rec := range recs {
		rec.Mtime, rec.Ctime = now, now
	}
}

func (e *Engine) newRecord(typ engine.ObjectType, mode uint32, cred engine.Cred) *objectRecord {
	now := e.now().UnixNano()
	return &objectRecord{
		Type:  typ,
		Mode:  mode & permMask,
		UID:   cred.UID,
		GID:   cred.GID,
		Nlink: 1,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

// unlinkLocked drops one link of a child record that has already lost a
// directory entry. The last link destroys the object unless it is held, in
// which case reclaim waits for the final Release. e.mu must be held.
func (e *Engine) unlinkLocked(txn *badger.Txn, id engine.ObjectID, rec *objectRecord, orphans *[]engine.ObjectID) error {
	if rec.Type == engine.TypeDir {
		rec.Nlink = 0
	} else if rec.Nlink > 0 {
		rec.Nlink--
	}
	rec.Ctime = e.now().UnixNano()
	if rec.Nlink > 0 {
		return storeObject(txn, id, rec)
	}
	if _, ok := e.held(id); ok {
		*orphans = append(*orphans, id)
		return storeObject(txn, id, rec)
	}
	return destroyObject(txn, id)
}

func (e *Engine) markUnlinked(orphans []engine.ObjectID) {
	for _, id := range orphans {
		if v, ok := e.held(id); ok {
			v.unlinked = true
		}
	}
}

// Lookup resolves name in dir. "." and ".." resolve to the directory and
// its parent.
func (e *Engine) Lookup(dir engine.Object, name string, cred engine.Cred) (engine.Object, error) {
	d := asVnode(dir)
	if d.typ != engine.TypeDir {
		return nil, unix.ENOTDIR
	}
	if len(name) >= engine.MaxNameLen {
		return nil, unix.ENAMETOOLONG
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		id  engine.ObjectID
		rec *objectRecord
	)
	err := e.view(func(txn *badger.Txn) error {
		drec, err := loadDir(txn, d.id)
		if err != nil {
			return err
		}
		if err := checkAccess(drec, engine.VExec, cred); err != nil {
			return err
		}
		switch name {
		case "":
			return unix.ENOENT
		case ".":
			id, rec = d.id, drec
			return nil
		case "..":
			id = drec.Parent
		default:
			ent, err := getDirent(txn, d.id, name)
			if err != nil {
				return err
			}
			id = ent.ID
		}
		rec, err = loadObject(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if v, ok := e.held(id); ok && v.unlinked {
		return nil, unix.ENOENT
	}
	return e.installLocked(id, rec), nil
}

// Create makes a file in dir, or opens the existing one when excl is false.
// A size in va truncates an existing regular file.
func (e *Engine) Create(dir engine.Object, name string, va *engine.VAttr, excl bool, mode engine.AccessMode, cred engine.Cred) (engine.Object, error) {
	d := asVnode(dir)
	if err := checkName(name); err != nil {
		return nil, err
	}
	typ := va.Type
	if typ == engine.TypeNone {
		typ = engine.TypeRegular
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		id  engine.ObjectID
		rec *objectRecord
	)
	err := e.update(func(txn *badger.Txn) error {
		drec, err := loadDir(txn, d.id)
		if err != nil {
			return err
		}
		ent, err := getDirent(txn, d.id, name)
		switch {
		case err == nil:
			if excl {
				return unix.EEXIST
			}
			id = ent.ID
			rec, err = loadObject(txn, id)
			if err != nil {
				return err
			}
			if rec.Type == engine.TypeDir && mode&engine.VWrite != 0 {
				return unix.EISDIR
			}
			if mode != 0 {
				if err := checkAccess(rec, mode, cred); err != nil {
					return err
				}
			}
			if va.Mask&engine.AttrSize != 0 && rec.Type == engine.TypeRegular {
				if err := truncate(txn, id, rec, va.Size); err != nil {
					return err
				}
				e.touch(rec)
				return storeObject(txn, id, rec)
			}
			return nil
		case !errors.Is(err, unix.ENOENT):
			return err
		}

		if err := checkAccess(drec, engine.VWrite|engine.VExec, cred); err != nil {
			return err
		}
		var gen uint64
		id, gen, err = e.allocate(txn)
		if err != nil {
			return err
		}
		rec = e.newRecord(typ, va.Mode, cred)
		rec.Gen = gen
		rec.Rdev = va.Rdev
		if err := storeObject(txn, id, rec); err != nil {
			return err
		}
		if err := putDirent(txn, d.id, name, direntRecord{ID: id, Type: typ}); err != nil {
			return err
		}
		e.touch(drec)
		return storeObject(txn, d.id, drec)
	})
	if err != nil {
		return nil, err
	}
	return e.installLocked(id, rec), nil
}

// Mkdir makes a directory in dir.
func (e *Engine) Mkdir(dir engine.Object, name string, va *engine.VAttr, cred engine.Cred) (engine.Object, error) {
	d := asVnode(dir)
	if err := checkName(name); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		id  engine.ObjectID
		rec *objectRecord
	)
	err := e.update(func(txn *badger.Txn) error {
		drec, err := writableDir(txn, d.id, cred)
		if err != nil {
			return err
		}
		if _, err := getDirent(txn, d.id, name); err == nil {
			return unix.EEXIST
		} else if !errors.Is(err, unix.ENOENT) {
			return err
		}
		var gen uint64
		id, gen, err = e.allocate(txn)
		if err != nil {
			return err
		}
		rec = e.newRecord(engine.TypeDir, va.Mode, cred)
		rec.Gen = gen
		rec.Nlink = 2
		rec.Parent = d.id
		if err := storeObject(txn, id, rec); err != nil {
			return err
		}
		if err := putDirent(txn, d.id, name, direntRecord{ID: id, Type: engine.TypeDir}); err != nil {
			return err
		}
		drec.Nlink++
		e.touch(drec)
		return storeObject(txn, d.id, drec)
	})
	if err != nil {
		return nil, err
	}
	return e.installLocked(id, rec), nil
}

// Symlink makes a symbolic link to target. The new object is not returned;
// callers look it up.
func (e *Engine) Symlink(dir engine.Object, name string, va *engine.VAttr, target string, cred engine.Cred) error {
	d := asVnode(dir)
	if err := checkName(name); err != nil {
		return err
	}
	if len(target) >= engine.MaxPathLen {
		return unix.ENAMETOOLONG
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(txn *badger.Txn) error {
		drec, err := writableDir(txn, d.id, cred)
		if err != nil {
			return err
		}
		if _, err := getDirent(txn, d.id, name); err == nil {
			return unix.EEXIST
		} else if !errors.Is(err, unix.ENOENT) {
			return err
		}
		id, gen, err := e.allocate(txn)
		if err != nil {
			return err
		}
		rec := e.newRecord(engine.TypeSymlink, va.Mode, cred)
		rec.Gen = gen
		rec.Target = target
		rec.Size = uint64(len(target))
		if err := storeObject(txn, id, rec); err != nil {
			return err
		}
		if err := putDirent(txn, d.id, name, direntRecord{ID: id, Type: engine.TypeSymlink}); err != nil {
			return err
		}
		e.touch(drec)
		return storeObject(txn, d.id, drec)
	})
}

// Link adds name in dir for src. Directories cannot be hard linked.
func (e *Engine) Link(dir engine.Object, src engine.Object, name string, cred engine.Cred) error {
	d, s := asVnode(dir), asVnode(src)
	if err := checkName(name); err != nil {
		return err
	}
	if s.typ == engine.TypeDir {
		return unix.EPERM
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(txn *badger.Txn) error {
		drec, err := writableDir(txn, d.id, cred)
		if err != nil {
			return err
		}
		srec, err := loadObject(txn, s.id)
		if err != nil {
			return err
		}
		if srec.Nlink == 0 {
			return unix.ENOENT
		}
		if _, err := getDirent(txn, d.id, name); err == nil {
			return unix.EEXIST
		} else if !errors.Is(err, unix.ENOENT) {
			return err
		}
		if err := putDirent(txn, d.id, name, direntRecord{ID: s.id, Type: srec.Type}); err != nil {
			return err
		}
		srec.Nlink++
		srec.Ctime = e.now().UnixNano()
		if err := storeObject(txn, s.id, srec); err != nil {
			return err
		}
		e.touch(drec)
		return storeObject(txn, d.id, drec)
	})
}

// Remove unlinks a non-directory.
func (e *Engine) Remove(dir engine.Object, name string, cred engine.Cred) error {
	d := asVnode(dir)
	if err := checkName(name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var orphans []engine.ObjectID
	err := e.update(func(txn *badger.Txn) error {
		drec, err := writableDir(txn, d.id, cred)
		if err != nil {
			return err
		}
		ent, err := getDirent(txn, d.id, name)
		if err != nil {
			return err
		}
		crec, err := loadObject(txn, ent.ID)
		if err != nil {
			return err
		}
		if crec.Type == engine.TypeDir {
			return unix.EISDIR
		}
		if err := deleteDirent(txn, d.id, name); err != nil {
			return err
		}
		if err := e.unlinkLocked(txn, ent.ID, crec, &orphans); err != nil {
			return err
		}
		e.touch(drec)
		return storeObject(txn, d.id, drec)
	})
	if err != nil {
		return err
	}
	e.markUnlinked(orphans)
	return nil
}

// Rmdir removes an empty directory. A directory with entries yields EEXIST.
func (e *Engine) Rmdir(dir engine.Object, name string, cred engine.Cred) error {
	d := asVnode(dir)
	if err := checkName(name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var orphans []engine.ObjectID
	err := e.update(func(txn *badger.Txn) error {
		drec, err := writableDir(txn, d.id, cred)
		if err != nil {
			return err
		}
		ent, err := getDirent(txn, d.id, name)
		if err != nil {
			return err
		}
		crec, err := loadObject(txn, ent.ID)
		if err != nil {
			return err
		}
		if crec.Type != engine.TypeDir {
			return unix.ENOTDIR
		}
		if !dirEmpty(txn, ent.ID) {
			return unix.EEXIST
		}
		if err := deleteDirent(txn, d.id, name); err != nil {
			return err
		}
		if err := e.unlinkLocked(txn, ent.ID, crec, &orphans); err != nil {
			return err
		}
		drec.Nlink--
		e.touch(drec)
		return storeObject(txn, d.id, drec)
	})
	if err != nil {
		return err
	}
	e.markUnlinked(orphans)
	return nil
}

// isAncestor reports whether anc is dir or one of its ancestors.
func isAncestor(txn *badger.Txn, anc, dir engine.ObjectID) (bool, error) {
	for {
		if dir == anc {
			return true, nil
		}
		if dir == engine.RootID {
			return false, nil
		}
		rec, err := loadObject(txn, dir)
		if err != nil {
			return false, err
		}
		dir = rec.Parent
	}
}

// Rename moves srcName in srcDir to dstName in dstDir, replacing a
// compatible target. A non-empty target directory yields EEXIST.
func (e *Engine) Rename(srcDir engine.Object, srcName string, dstDir engine.Object, dstName string, cred engine.Cred) error {
	sd, td := asVnode(srcDir), asVnode(dstDir)
	if err := checkName(srcName); err != nil {
		return err
	}
	if err := checkName(dstName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var orphans []engine.ObjectID
	err := e.update(func(txn *badger.Txn) error {
		srec, err := writableDir(txn, sd.id, cred)
		if err != nil {
			return err
		}
		trec := srec
		if td.id != sd.id {
			if trec, err = writableDir(txn, td.id, cred); err != nil {
				return err
			}
		}
		ent, err := getDirent(txn, sd.id, srcName)
		if err != nil {
			return err
		}
		orec, err := loadObject(txn, ent.ID)
		if err != nil {
			return err
		}
		isDir := orec.Type == engine.TypeDir
		if isDir && td.id != sd.id {
			inside, err := isAncestor(txn, ent.ID, td.id)
			if err != nil {
				return err
			}
			if inside {
				return unix.EINVAL
			}
		}

		if tent, err := getDirent(txn, td.id, dstName); err == nil {
			if tent.ID == ent.ID {
				return nil
			}
			xrec, err := loadObject(txn, tent.ID)
			if err != nil {
				return err
			}
			switch {
			case isDir && xrec.Type != engine.TypeDir:
				return unix.ENOTDIR
			case !isDir && xrec.Type == engine.TypeDir:
				return unix.EISDIR
			case xrec.Type == engine.TypeDir && !dirEmpty(txn, tent.ID):
				return unix.EEXIST
			}
			if err := e.unlinkLocked(txn, tent.ID, xrec, &orphans); err != nil {
				return err
			}
			if xrec.Type == engine.TypeDir {
				trec.Nlink--
			}
		} else if !errors.Is(err, unix.ENOENT) {
			return err
		}

		if err := deleteDirent(txn, sd.id, srcName); err != nil {
			return err
		}
		if err := putDirent(txn, td.id, dstName, direntRecord{ID: ent.ID, Type: orec.Type}); err != nil {
			return err
		}
		if isDir && td.id != sd.id {
			orec.Parent = td.id
			srec.Nlink--
			trec.Nlink++
		}
		orec.Ctime = e.now().UnixNano()
		if err := storeObject(txn, ent.ID, orec); err != nil {
			return err
		}
		e.touch(srec, trec)
		if err := storeObject(txn, sd.id, srec); err != nil {
			return err
		}
		if td.id != sd.id {
			return storeObject(txn, td.id, trec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.markUnlinked(orphans)
	return nil
}

// ReadDir yields entries of dir starting at cursor offset. Offsets 0 and 1
// are "." and ".."; stored entries follow in hash order from offset 2.
func (e *Engine) ReadDir(dir engine.Object, offset int64, cred engine.Cred) iter.Seq2[engine.DirEntry, error] {
	d := asVnode(dir)
	return func(yield func(engine.DirEntry, error) bool) {
		if d.typ != engine.TypeDir {
			yield(engine.DirEntry{}, unix.ENOTDIR)
			return
		}
		if offset < 0 {
			yield(engine.DirEntry{}, unix.EINVAL)
			return
		}
		var parent engine.ObjectID
		err := e.view(func(txn *badger.Txn) error {
			rec, err := loadObject(txn, d.id)
			if err != nil {
				return err
			}
			parent = rec.Parent
			return nil
		})
		if err != nil {
			yield(engine.DirEntry{}, err)
			return
		}
		if offset == 0 {
			if !yield(engine.DirEntry{ID: d.id, Offset: 1, Name: ".", Type: engine.TypeDir}, nil) {
				return
			}
			offset = 1
		}
		if offset == 1 {
			if !yield(engine.DirEntry{ID: parent, Offset: 2, Name: "..", Type: engine.TypeDir}, nil) {
				return
			}
			offset = 2
		}
		for {
			batch, err := e.dirBatch(d.id, offset, readDirBatch)
			if err != nil {
				yield(engine.DirEntry{}, err)
				return
			}
			for _, ent := range batch {
				if !yield(ent, nil) {
					return
				}
			}
			if len(batch) < readDirBatch {
				return
			}
			offset += int64(len(batch))
		}
	}
}

// dirBatch loads up to limit stored entries starting at cursor offset.
func (e *Engine) dirBatch(dir engine.ObjectID, offset int64, limit int) ([]engine.DirEntry, error) {
	var out []engine.DirEntry
	err := e.view(func(txn *badger.Txn) error {
		prefix := direntPrefix(dir)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: limit})
		defer it.Close()
		pos := int64(2)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			if pos < offset {
				pos++
				continue
			}
			item := it.Item()
			var ent direntRecord
			if err := item.Value(func(val []byte) error {
				return unmarshal(val, &ent)
			}); err != nil {
				return err
			}
			_, name := parseDirentKey(item.Key())
			pos++
			out = append(out, engine.DirEntry{ID: ent.ID, Offset: pos, Name: name, Type: ent.Type})
		}
		return nil
	})
	return out, err
}
