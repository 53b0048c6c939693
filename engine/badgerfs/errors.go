package badgerfs

import "errors"

var (
	ErrNotFormatted = errors.New("badgerfs: pool is not formatted")
	ErrFormatted    = errors.New("badgerfs: pool is already formatted")
	ErrCorrupt      = errors.New("badgerfs: corrupt record")
)
