// Package fusefs serves a slash.Mount over bazil.org/fuse.
//
// Every kernel node is a Node carrying the protocol id and generation the
// adapter issued for it; opened files and directories are Handles wrapping
// the adapter's HandleID. Directory reads return the adapter's packed
// records unchanged, since they already use the kernel dirent layout, and
// the kernel's read offset is the adapter's native cursor.
//
// Credentials are taken from the request header. Supplementary groups are
// not part of a FUSE request, so only the primary gid is checked.
package fusefs
