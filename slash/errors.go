package slash

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errContext names where an engine error surfaced.
type errContext int

const (
	ctxResolve errContext = iota
	ctxRmdir
)

// errTable rewrites engine codes whose meaning differs from the protocol's.
// An object being reclaimed is gone as far as a client can tell, and a
// directory with children is reported as not empty.
var errTable = map[errContext]map[unix.Errno]unix.Errno{
	ctxResolve: {unix.EEXIST: unix.ENOENT},
	ctxRmdir:   {unix.EEXIST: unix.ENOTEMPTY},
}

func translate(c errContext, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		if sub, ok := errTable[c][errno]; ok {
			return sub
		}
	}
	return err
}

// Errno reduces err to the code sent to the client. Errors without an
// errno become EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
