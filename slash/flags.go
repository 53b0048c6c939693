package slash

import (
	"github.com/dendrascience/slashfs/engine"
	"golang.org/x/sys/unix"
)

type flagMapping struct {
	proto int
	eng   engine.FileFlag
}

// modifierFlags pairs protocol open flags with engine flags. A protocol flag
// matches when all of its bits are set, so O_SYNC also implies the dsync and
// rsync bits it contains.
var modifierFlags = []flagMapping{
	{unix.O_CREAT, engine.FCreat},
	{unix.O_EXCL, engine.FExcl},
	{unix.O_TRUNC, engine.FTrunc},
	{unix.O_APPEND, engine.FAppend},
	{unix.O_SYNC, engine.FSync},
	{unix.O_DSYNC, engine.FDSync},
	{unix.O_RSYNC, engine.FRSync},
	{unix.O_NOFOLLOW, engine.FNoFollow},
	{OpenLargeFile, engine.FOffMax},
}

// FlagsToEngine translates protocol open flags. The access mode comes from
// the O_ACCMODE bits; an access mode of 3 is rejected with EINVAL.
func FlagsToEngine(flags int) (engine.FileFlag, error) {
	var out engine.FileFlag
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		out = engine.FRead
	case unix.O_WRONLY:
		out = engine.FWrite
	case unix.O_RDWR:
		out = engine.FRead | engine.FWrite
	default:
		return 0, unix.EINVAL
	}
	for _, m := range modifierFlags {
		if flags&m.proto == m.proto {
			out |= m.eng
		}
	}
	return out, nil
}

// FlagsToProtocol is the inverse of FlagsToEngine.
func FlagsToProtocol(flags engine.FileFlag) int {
	var out int
	switch flags & (engine.FRead | engine.FWrite) {
	case engine.FWrite:
		out = unix.O_WRONLY
	case engine.FRead | engine.FWrite:
		out = unix.O_RDWR
	default:
		out = unix.O_RDONLY
	}
	for _, m := range modifierFlags {
		if flags&m.eng != 0 {
			out |= m.proto
		}
	}
	return out
}

// accessMode returns the permissions an open with flags needs.
func accessMode(flags engine.FileFlag) engine.AccessMode {
	var mode engine.AccessMode
	if flags&engine.FRead != 0 {
		mode |= engine.VRead
	}
	if flags&engine.FWrite != 0 {
		mode |= engine.VWrite
	}
	return mode
}

// accessMask maps an access(2) mask to engine permissions.
func accessMask(mask uint32) engine.AccessMode {
	var mode engine.AccessMode
	if mask&unix.R_OK != 0 {
		mode |= engine.VRead
	}
	if mask&unix.W_OK != 0 {
		mode |= engine.VWrite
	}
	if mask&unix.X_OK != 0 {
		mode |= engine.VExec
	}
	return mode
}
