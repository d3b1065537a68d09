// Package utils holds small one-off helpers shared across the beacon
// binaries.
package utils

// Build metadata, stamped into release binaries via -ldflags -X (see the
// BuildRelease pipeline). Local builds report the zero values below.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
