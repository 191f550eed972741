// Package buildinfo exposes the version stamped into the savekeep binary.
//
// Version, Commit and BuildTime are set with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/savekeep-go/internal/infra/buildinfo.Version=v0.3.0" ./cmd/savekeep
//
// The Go version and, for untagged builds, the VCS revision are read from
// the module build info embedded by the toolchain.
package buildinfo
