// Package cmd provides the command-line interface implementation for slashfs.
//
// It uses Cobra for command structure and Fang for styling. Commands are
// grouped as filesystem operations (mount, mkfs) and utilities (ls, stat,
// count, seed, import, export, validate, config, version).
//
// The utilities open a pool directly and drive it through the same
// slash.Mount the FUSE binding uses, so listings and attributes come out
// exactly as a mount would report them. Configuration is loaded by
// internal/config; the pool location always comes from the command line.
package cmd
