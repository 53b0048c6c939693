// Package main provides the slashfs command-line interface.
//
// slashfs serves a pool of the badger-backed filesystem engine over FUSE.
// The protocol adapter in package slash translates between the kernel's
// numeric-handle requests and the engine's object interface; package
// fusefs binds it to bazil.org/fuse.
//
// The binary supports these subcommands:
//   - mkfs: Create an empty pool
//   - mount: Mount a pool at a specified mountpoint
//   - ls, stat, count: Inspect an unmounted pool
//   - seed, import: Populate a pool with generated files or a host tree
//   - export: Write a pool tree to a zip archive
//   - validate: Check a pool for consistency
//   - config: Show the effective configuration
package main
