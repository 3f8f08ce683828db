// Package version carries build-time identification for the v5d and v5ctl
// binaries.
package version

// VERSION and Commit are injected at build time:
//
//	go build -ldflags "-X github.com/vexide/v5ctl/internal/version.VERSION=0.1.0 \
//	                   -X github.com/vexide/v5ctl/internal/version.Commit=abc123"
var (
	VERSION = "dev"
	Commit  = "dev"
)
