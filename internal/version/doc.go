// Package version exposes build metadata of dist-zipper.
//
// Version, Commit and BuildTime are injected with -ldflags. Builds made with
// plain "go install" fall back to the VCS data the toolchain embeds.
package version
