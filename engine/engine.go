// Package engine defines the primitive surface of a transactional, reference
// counted object store. Objects are addressed by a 64-bit id and carry an
// immutable generation number. Every object handed out by Get, Lookup,
// Create or Mkdir is held and must be returned with Release.
//
// Errors are unix.Errno values, possibly wrapped with fmt.Errorf and %w.
package engine

import (
	"iter"
	"time"

	"golang.org/x/sys/unix"
)

// ObjectID identifies an object inside the engine.
type ObjectID uint64

// RootID is the engine's root directory.
const RootID ObjectID = 3

// ObjectType is the vnode type of an object.
type ObjectType uint8

const (
	TypeNone ObjectType = iota
	TypeRegular
	TypeDir
	TypeBlock
	TypeChar
	TypeSymlink
	TypeFIFO
	TypeBad
	TypeSocket
)

var typeNames = map[ObjectType]string{
	TypeNone:    "none",
	TypeRegular: "file",
	TypeDir:     "dir",
	TypeBlock:   "block",
	TypeChar:    "char",
	TypeSymlink: "symlink",
	TypeFIFO:    "fifo",
	TypeBad:     "bad",
	TypeSocket:  "socket",
}

func (t ObjectType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// IFMT returns the S_IFMT bits for t.
func (t ObjectType) IFMT() uint32 {
	switch t {
	case TypeRegular:
		return unix.S_IFREG
	case TypeDir:
		return unix.S_IFDIR
	case TypeBlock:
		return unix.S_IFBLK
	case TypeChar:
		return unix.S_IFCHR
	case TypeSymlink:
		return unix.S_IFLNK
	case TypeFIFO:
		return unix.S_IFIFO
	case TypeSocket:
		return unix.S_IFSOCK
	}
	return 0
}

// Object is a held reference to an engine object.
type Object interface {
	ID() ObjectID
	Generation() uint64
	Type() ObjectType
}

// Cred is the identity an operation runs as.
type Cred struct {
	UID    uint32
	GID    uint32
	Groups []uint32
}

// RootCred runs as uid 0.
var RootCred = Cred{}

// InGroup reports whether gid is the primary or a supplementary group.
func (c Cred) InGroup(gid uint32) bool {
	if c.GID == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// AttrMask selects VAttr fields.
type AttrMask uint32

const (
	AttrType AttrMask = 1 << iota
	AttrMode
	AttrUID
	AttrGID
	AttrFSID
	AttrNodeID
	AttrNlink
	AttrSize
	AttrAtime
	AttrMtime
	AttrCtime
	AttrRdev
	AttrBlksize
	AttrNblocks
)

// AttrStat is the set of fields stat(2) needs, without block accounting.
const AttrStat = AttrType | AttrMode | AttrUID | AttrGID | AttrFSID | AttrNodeID |
	AttrNlink | AttrSize | AttrAtime | AttrMtime | AttrCtime | AttrRdev

// VAttr carries object attributes in and out of GetAttr, SetAttr and the
// creation primitives.
type VAttr struct {
	Mask    AttrMask
	Type    ObjectType
	Mode    uint32
	UID     uint32
	GID     uint32
	FSID    uint64
	NodeID  ObjectID
	Nlink   uint32
	Size    uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Rdev    uint64
	Blksize uint32
	Nblocks uint64
}

// SetAttrFlag modifies SetAttr behaviour.
type SetAttrFlag uint32

// AttrUTime marks Atime and Mtime as explicit caller supplied values.
const AttrUTime SetAttrFlag = 0x01

// FileFlag is the engine's open flag word.
type FileFlag uint32

const (
	FRead     FileFlag = 0x01
	FWrite    FileFlag = 0x02
	FNDelay   FileFlag = 0x04
	FAppend   FileFlag = 0x08
	FSync     FileFlag = 0x10
	FDSync    FileFlag = 0x40
	FNonBlock FileFlag = 0x80
	FCreat    FileFlag = 0x100
	FTrunc    FileFlag = 0x200
	FExcl     FileFlag = 0x400
	FOffMax   FileFlag = 0x2000
	FRSync    FileFlag = 0x8000
	FNoFollow FileFlag = 0x20000
)

// AccessMode is the permission set checked by Access.
type AccessMode uint32

const (
	VExec  AccessMode = 0o100
	VWrite AccessMode = 0o200
	VRead  AccessMode = 0o400
)

// DirEntry is one native directory entry. Offset is the cursor of the
// entry that follows it.
type DirEntry struct {
	ID     ObjectID
	Offset int64
	Name   string
	Type   ObjectType
}

// FSStat describes pool capacity.
type FSStat struct {
	BlockSize    uint32
	FragmentSize uint32
	Blocks       uint64
	BlocksFree   uint64
	BlocksAvail  uint64
	Files        uint64
	FilesFree    uint64
	FilesAvail   uint64
	FSID         uint64
	NameMax      uint32
}

// MaxNameLen bounds a single path component, terminator included.
const MaxNameLen = 256

// MaxPathLen bounds a symlink target.
const MaxPathLen = 4096

// Engine is the primitive surface consumed by the adapter.
type Engine interface {
	// Enter and Exit bracket every operation. Enter fails once the engine
	// has been unmounted.
	Enter() error
	Exit()

	Get(id ObjectID) (Object, error)
	Hold(obj Object)
	Release(obj Object)

	Lookup(dir Object, name string, cred Cred) (Object, error)
	GetAttr(obj Object, va *VAttr, cred Cred) error
	SetAttr(obj Object, va *VAttr, flags SetAttrFlag, cred Cred) error
	Access(obj Object, mode AccessMode, cred Cred) error

	Open(obj Object, flags FileFlag, cred Cred) error
	Close(obj Object, flags FileFlag, cred Cred) error

	Create(dir Object, name string, va *VAttr, excl bool, mode AccessMode, cred Cred) (Object, error)
	Mkdir(dir Object, name string, va *VAttr, cred Cred) (Object, error)
	Symlink(dir Object, name string, va *VAttr, target string, cred Cred) error
	Readlink(obj Object, uio *UIO, cred Cred) error
	Link(dir Object, src Object, name string, cred Cred) error
	Rename(srcDir Object, srcName string, dstDir Object, dstName string, cred Cred) error
	Remove(dir Object, name string, cred Cred) error
	Rmdir(dir Object, name string, cred Cred) error

	Read(obj Object, uio *UIO, flags FileFlag, cred Cred) error
	Write(obj Object, uio *UIO, flags FileFlag, cred Cred) error
	ReadDir(dir Object, offset int64, cred Cred) iter.Seq2[DirEntry, error]

	// Space frees the range from start to end of file.
	Space(obj Object, start int64, flags FileFlag, cred Cred) error
	Fsync(obj Object, flags FileFlag, cred Cred) error

	StatFS() (FSStat, error)
	Unmount(force bool) error
}
