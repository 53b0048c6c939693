package slash

import (
	"context"
	"time"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/internal/logger"
	"golang.org/x/sys/unix"
)

// Attributes is the stat record exposed to the protocol.
type Attributes struct {
	Mode      uint32 // S_IFMT type bits | permission bits
	UID       uint32
	GID       uint32
	Rdev      uint64
	Size      uint64
	Blocks    uint64 // 512-byte units
	BlockSize uint32
	Nlink     uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Dev       uint64 // filesystem id
	Ino       uint64 // protocol object id
}

const permMask = 0o7777

const statMask = engine.AttrStat | engine.AttrNblocks | engine.AttrBlksize | engine.AttrSize

// stat fetches every exposed attribute of obj in one engine call.
func (m *Mount) stat(obj engine.Object, cred engine.Cred) (Attributes, error) {
	va := engine.VAttr{Mask: statMask}
	if err := m.eng.GetAttr(obj, &va, cred); err != nil {
		return Attributes{}, err
	}
	return Attributes{
		Mode:      va.Type.IFMT() | va.Mode,
		UID:       va.UID,
		GID:       va.GID,
		Rdev:      va.Rdev,
		Size:      va.Size,
		Blocks:    va.Nblocks,
		BlockSize: va.Blksize,
		Nlink:     va.Nlink,
		Atime:     va.Atime,
		Mtime:     va.Mtime,
		Ctime:     va.Ctime,
		Dev:       va.FSID,
		Ino:       ToExternal(va.NodeID),
	}, nil
}

// FidGen identifies a resolved object and the incarnation it had.
type FidGen struct {
	Fid uint64
	Gen uint64
}

// issue builds the FidGen of a held object.
func issue(obj engine.Object) FidGen {
	return FidGen{Fid: ToExternal(obj.ID()), Gen: obj.Generation()}
}

// Getattr returns the attributes of id.
func (m *Mount) Getattr(ctx context.Context, id uint64, cred engine.Cred) (attr Attributes, err error) {
	o, err := m.begin(ctx, "getattr", logger.KeyID, id)
	if err != nil {
		return attr, err
	}
	defer o.end(&err)

	ref, err := m.resolve(id)
	if err != nil {
		return attr, err
	}
	defer ref.release()
	return m.stat(ref.obj, cred)
}

// SetattrMask selects the SetattrIn fields to apply.
type SetattrMask uint32

const (
	SetMode SetattrMask = 1 << iota
	SetUID
	SetGID
	SetSize
	SetAtime
	SetMtime
	SetAtimeNow
	SetMtimeNow
)

// SetattrIn carries the new values for Setattr.
type SetattrIn struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
}

// Setattr changes the fields of id selected by valid. When hasHandle is
// set the object is taken from handle h, and a size change goes through
// the handle: it must be open for writing and name a regular file.
func (m *Mount) Setattr(ctx context.Context, id uint64, in SetattrIn, valid SetattrMask, h HandleID, hasHandle bool, cred engine.Cred) (attr Attributes, err error) {
	o, err := m.begin(ctx, "setattr", logger.KeyID, id, logger.KeyHandle, h)
	if err != nil {
		return attr, err
	}
	defer o.end(&err)

	var (
		ref   *objRef
		flags engine.FileFlag
	)
	if hasHandle {
		ref, flags, err = m.files.use(m.eng, h, ToInternal(id))
	} else {
		ref, err = m.resolve(id)
	}
	if err != nil {
		return attr, err
	}
	defer ref.release()

	if valid&SetSize != 0 && hasHandle {
		if flags&engine.FWrite == 0 {
			return attr, unix.EBADF
		}
		if ref.obj.Type() != engine.TypeRegular {
			return attr, unix.EINVAL
		}
		if err := m.eng.Space(ref.obj, int64(in.Size), flags, cred); err != nil {
			return attr, err
		}
		valid &^= SetSize
	}

	va, sflags := setattrVAttr(in, valid)
	if va.Mask != 0 {
		if err := m.eng.SetAttr(ref.obj, &va, sflags, cred); err != nil {
			return attr, err
		}
	}
	return m.stat(ref.obj, cred)
}

// setattrVAttr converts the protocol request into an engine attribute
// write. Explicit times set AttrUTime; a time requested as now is filled
// in only when the other time is explicit.
func setattrVAttr(in SetattrIn, valid SetattrMask) (engine.VAttr, engine.SetAttrFlag) {
	var (
		va    engine.VAttr
		flags engine.SetAttrFlag
	)
	if valid&SetMode != 0 {
		va.Mask |= engine.AttrMode
		va.Mode = in.Mode & permMask
	}
	if valid&SetUID != 0 {
		va.Mask |= engine.AttrUID
		va.UID = in.UID
	}
	if valid&SetGID != 0 {
		va.Mask |= engine.AttrGID
		va.GID = in.GID
	}
	if valid&SetSize != 0 {
		va.Mask |= engine.AttrSize
		va.Size = in.Size
	}
	if valid&(SetAtime|SetMtime) != 0 {
		flags |= engine.AttrUTime
	}
	now := time.Now()
	switch {
	case valid&SetAtime != 0:
		va.Mask |= engine.AttrAtime
		va.Atime = in.Atime
	case valid&SetAtimeNow != 0:
		va.Mask |= engine.AttrAtime
		va.Atime = now
	}
	switch {
	case valid&SetMtime != 0:
		va.Mask |= engine.AttrMtime
		va.Mtime = in.Mtime
	case valid&SetMtimeNow != 0:
		va.Mask |= engine.AttrMtime
		va.Mtime = now
	}
	return va, flags
}

// Access checks an access(2) mask against id.
func (m *Mount) Access(ctx context.Context, id uint64, mask uint32, cred engine.Cred) (err error) {
	o, err := m.begin(ctx, "access", logger.KeyID, id, logger.KeyMode, mask)
	if err != nil {
		return err
	}
	defer o.end(&err)

	ref, err := m.resolve(id)
	if err != nil {
		return err
	}
	defer ref.release()
	return m.eng.Access(ref.obj, accessMask(mask), cred)
}

// StatFS is the statvfs record exposed to the protocol.
type StatFS struct {
	Bsize   uint32
	Frsize  uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Namemax uint32
}

// Statfs reports pool capacity. Clients size the pool from Bsize, so it
// carries the fragment size.
func (m *Mount) Statfs(ctx context.Context) (st StatFS, err error) {
	o, err := m.begin(ctx, "statfs")
	if err != nil {
		return st, err
	}
	defer o.end(&err)

	fs, err := m.eng.StatFS()
	if err != nil {
		return st, err
	}
	return StatFS{
		Bsize:   fs.FragmentSize,
		Frsize:  fs.FragmentSize,
		Blocks:  fs.Blocks,
		Bfree:   fs.BlocksFree,
		Bavail:  fs.BlocksAvail,
		Files:   fs.Files,
		Ffree:   fs.FilesFree,
		Favail:  fs.FilesAvail,
		Fsid:    fs.FSID,
		Namemax: fs.NameMax,
	}, nil
}
