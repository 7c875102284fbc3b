// Package version holds the symbolic version of the running code.
package version

// Version is the symbolic version. It is set at build time via -ldflags.
var Version = "v0.1.0"
