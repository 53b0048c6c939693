// Package slash adapts an engine.Engine to a numeric-handle filesystem
// protocol such as FUSE.
//
// The protocol addresses objects by 64-bit id and names its root 1, while
// the engine's root is engine.RootID. Every id crossing the boundary goes
// through ToInternal or ToExternal. Objects resolved or created by an
// operation are reported as a FidGen so stale ids can be detected; open
// files and directories live in a per-mount FileTable keyed by HandleID.
//
// Directory listings are returned as packed records in the FUSE dirent
// layout:
//
//	ino     uint64  object id, remapped
//	off     uint64  cursor of the next entry
//	namelen uint32
//	type    uint32  (mode & S_IFMT) >> 12
//	name    [namelen]byte, zero padded to an 8 byte boundary
//
// Errors returned by Mount methods are unix.Errno values, or engine errors
// passed through unchanged.
package slash
