package util

import "errors"

// Sentinel errors for package util.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// ErrIDExhausted is returned once an allocator reaches the top of its
	// range.
	ErrIDExhausted = errors.New("identifier space exhausted")
)
