package nitro

import "github.com/carlmjohnson/versioninfo"

// Version reports the module's build version, derived from the embedded
// VCS info the Go toolchain stamps into the binary (falls back to
// "(devel)" for an unstamped build), the same way client2's daemon
// reports its own version string.
func Version() string {
	return versioninfo.Version
}

// Revision reports the VCS commit this binary was built from.
func Revision() string {
	return versioninfo.Revision
}
