package util

import (
	"github.com/taigrr/colorhash"
)

// BucketCount is the number of hash buckets directory entries are spread over.
const BucketCount = 1 << 20

// NameBucket returns the hash bucket of a directory entry name.
func NameBucket(name string) uint32 {
	return uint32(uint64(colorhash.HashString(name)) % BucketCount)
}
