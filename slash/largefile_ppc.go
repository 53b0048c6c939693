//go:build ppc64 || ppc64le

package slash

// OpenLargeFile is the kernel's O_LARGEFILE bit on powerpc.
const OpenLargeFile = 0o200000
