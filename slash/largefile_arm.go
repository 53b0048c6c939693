//go:build arm || arm64

package slash

// OpenLargeFile is the kernel's O_LARGEFILE bit on arm.
const OpenLargeFile = 0o400000
