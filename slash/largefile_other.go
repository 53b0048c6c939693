//go:build !arm && !arm64 && !ppc64 && !ppc64le

package slash

// OpenLargeFile is the kernel's O_LARGEFILE bit as it arrives in protocol
// open flags. unix.O_LARGEFILE is zero on 64-bit hosts, so the value is
// spelled out per architecture.
const OpenLargeFile = 0o100000
