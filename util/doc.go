// Package util provides small building blocks shared by the slashfs engine
// and command line tools.
//
// Key Components:
//
// Identifier Allocation:
//   - IDAllocator hands out monotonically increasing object ids and
//     generation numbers, seeded from a persisted high-water mark
//
// Name Hashing:
//   - NameBucket spreads directory entries over hash buckets so entries are
//     stored in hash order rather than insertion order
//
// Both are safe for concurrent use.
package util
