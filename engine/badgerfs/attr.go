package badgerfs

import (
	"time"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sys/unix"
)

const permMask = 0o7777

// checkAccess applies owner, group and other permission bits. Root passes
// read and write checks and needs at least one exec bit to execute a
// non-directory.
func checkAccess(rec *objectRecord, mode engine.AccessMode, cred engine.Cred) error {
	if cred.UID == 0 {
		if mode&engine.VExec != 0 && rec.Type != engine.TypeDir && rec.Mode&0o111 == 0 {
			return unix.EACCES
		}
		return nil
	}
	var shift uint
	switch {
	case cred.UID == rec.UID:
		shift = 0
	case cred.InGroup(rec.GID):
		shift = 3
	default:
		shift = 6
	}
	granted := engine.AccessMode(rec.Mode<<shift) & 0o700
	if mode&^granted != 0 {
		return unix.EACCES
	}
	return nil
}

func isOwner(rec *objectRecord, cred engine.Cred) bool {
	return cred.UID == 0 || cred.UID == rec.UID
}

func nblocks(size uint64) uint64 {
	return (size + BlockSize - 1) / BlockSize * (BlockSize / 512)
}

// GetAttr fills the fields selected by va.Mask.
func (e *Engine) GetAttr(obj engine.Object, va *engine.VAttr, cred engine.Cred) error {
	v := asVnode(obj)
	var rec *objectRecord
	err := e.view(func(txn *badger.Txn) error {
		var err error
		rec, err = loadObject(txn, v.id)
		return err
	})
	if err != nil {
		return err
	}
	mask := va.Mask
	*va = engine.VAttr{Mask: mask}
	if mask&engine.AttrType != 0 {
		va.Type = rec.Type
	}
	if mask&engine.AttrMode != 0 {
		va.Mode = rec.Mode & permMask
	}
	if mask&engine.AttrUID != 0 {
		va.UID = rec.UID
	}
	if mask&engine.AttrGID != 0 {
		va.GID = rec.GID
	}
	if mask&engine.AttrFSID != 0 {
		va.FSID = e.fsid
	}
	if mask&engine.AttrNodeID != 0 {
		va.NodeID = v.id
	}
	if mask&engine.AttrNlink != 0 {
		va.Nlink = rec.Nlink
	}
	if mask&engine.AttrSize != 0 {
		va.Size = rec.Size
	}
	if mask&engine.AttrAtime != 0 {
		va.Atime = time.Unix(0, rec.Atime)
	}
	if mask&engine.AttrMtime != 0 {
		va.Mtime = time.Unix(0, rec.Mtime)
	}
	if mask&engine.AttrCtime != 0 {
		va.Ctime = time.Unix(0, rec.Ctime)
	}
	if mask&engine.AttrRdev != 0 {
		va.Rdev = rec.Rdev
	}
	if mask&engine.AttrBlksize != 0 {
		va.Blksize = BlockSize
	}
	if mask&engine.AttrNblocks != 0 {
		va.Nblocks = nblocks(rec.Size)
	}
	return nil
}

// SetAttr changes the fields selected by va.Mask. Ownership changes need
// root; mode and explicit times need the owner. Without AttrUTime the
// selected times are set to now, which write access suffices for.
func (e *Engine) SetAttr(obj engine.Object, va *engine.VAttr, flags engine.SetAttrFlag, cred engine.Cred) error {
	v := asVnode(obj)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(txn *badger.Txn) error {
		rec, err := loadObject(txn, v.id)
		if err != nil {
			return err
		}
		owner := isOwner(rec, cred)
		if va.Mask&engine.AttrMode != 0 && !owner {
			return unix.EPERM
		}
		if va.Mask&engine.AttrUID != 0 && va.UID != rec.UID && cred.UID != 0 {
			return unix.EPERM
		}
		if va.Mask&engine.AttrGID != 0 && va.GID != rec.GID && cred.UID != 0 &&
			!(owner && cred.InGroup(va.GID)) {
			return unix.EPERM
		}
		times := va.Mask & (engine.AttrAtime | engine.AttrMtime)
		if times != 0 && !owner {
			if flags&engine.AttrUTime != 0 {
				return unix.EPERM
			}
			if err := checkAccess(rec, engine.VWrite, cred); err != nil {
				return err
			}
		}

		now := e.now()
		if va.Mask&engine.AttrSize != 0 {
			if err := checkRegular(rec.Type); err != nil {
				return err
			}
			if err := checkAccess(rec, engine.VWrite, cred); err != nil {
				return err
			}
			if err := truncate(txn, v.id, rec, va.Size); err != nil {
				return err
			}
			rec.Mtime = now.UnixNano()
		}
		if va.Mask&engine.AttrMode != 0 {
			rec.Mode = va.Mode & permMask
		}
		if va.Mask&engine.AttrUID != 0 {
			rec.UID = va.UID
		}
		if va.Mask&engine.AttrGID != 0 {
			rec.GID = va.GID
		}
		atime, mtime := now, now
		if flags&engine.AttrUTime != 0 {
			atime, mtime = va.Atime, va.Mtime
		}
		if va.Mask&engine.AttrAtime != 0 {
			rec.Atime = atime.UnixNano()
		}
		if va.Mask&engine.AttrMtime != 0 {
			rec.Mtime = mtime.UnixNano()
		}
		rec.Ctime = now.UnixNano()
		return storeObject(txn, v.id, rec)
	})
}

// Access checks mode against the object's permission bits.
func (e *Engine) Access(obj engine.Object, mode engine.AccessMode, cred engine.Cred) error {
	v := asVnode(obj)
	return e.view(func(txn *badger.Txn) error {
		rec, err := loadObject(txn, v.id)
		if err != nil {
			return err
		}
		return checkAccess(rec, mode, cred)
	})
}

// Open records an open of obj. Directories cannot be opened for writing.
func (e *Engine) Open(obj engine.Object, flags engine.FileFlag, cred engine.Cred) error {
	v := asVnode(obj)
	if v.typ == engine.TypeDir && flags&engine.FWrite != 0 {
		return unix.EISDIR
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v.opens++
	return nil
}

// Close ends an open started with Open.
func (e *Engine) Close(obj engine.Object, flags engine.FileFlag, cred engine.Cred) error {
	v := asVnode(obj)
	e.mu.Lock()
	defer e.mu.Unlock()
	if v.opens == 0 {
		return unix.EINVAL
	}
	v.opens--
	return nil
}
