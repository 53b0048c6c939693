// Package version reports slashfs build metadata.
//
// Values come from, in order: variables injected at link time,
//
//	-ldflags "-X github.com/dendrascience/slashfs/version.Version=v1.0.0 -X github.com/dendrascience/slashfs/version.Commit=abc123 -X github.com/dendrascience/slashfs/version.Date=2023-01-01T00:00:00Z"
//
// then the module and VCS settings recorded by the Go toolchain, then
// development defaults.
package version
