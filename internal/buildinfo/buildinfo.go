// Package buildinfo carries the version string stamped into release binaries.
package buildinfo

// Version is overridden at link time via -ldflags "-X envmesh/internal/buildinfo.Version=...".
var Version = "dev"
