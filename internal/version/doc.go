// Package version exposes build metadata for relpack.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
package version
