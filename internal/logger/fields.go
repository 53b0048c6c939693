package logger

// Standard field keys for structured logging. Use them consistently so log
// lines can be aggregated and queried.
const (
	// Operation
	KeyOp      = "op"      // Adapter operation: lookup, read, rmdir, ...
	KeyErrno   = "errno"   // Protocol error code returned to the client
	KeyError   = "error"   // Underlying error text
	KeyElapsed = "elapsed" // Operation latency

	// Identifiers
	KeyID       = "id"        // Protocol object id
	KeyParentID = "parent_id" // Protocol id of the parent directory
	KeyHandle   = "handle"    // Open-file handle
	KeyName     = "name"      // Directory entry name
	KeyNewName  = "new_name"  // Target name for rename and link

	// I/O
	KeyOffset = "offset"
	KeyCount  = "count"
	KeySize   = "size"
	KeyFlags  = "flags"
	KeyMode   = "mode"

	// Caller
	KeyUID = "uid"
	KeyGID = "gid"
	KeyPID = "pid"

	// Storage
	KeyPath    = "path"
	KeyPool    = "pool"
	KeyAttempt = "attempt"
)
