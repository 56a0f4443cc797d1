// Package version reports the fleetcomply build version recorded by the Go
// toolchain in the binary's build info.
package version

import "runtime/debug"

// devVersion is reported for go-run and untagged builds.
const devVersion = "0.0.0-dev"

var buildInfo = debug.ReadBuildInfo

// String returns the module's release tag, or devVersion when the binary was
// built without one.
func String() string {
	info, ok := buildInfo()
	if !ok {
		return devVersion
	}
	switch v := info.Main.Version; v {
	case "", "(devel)":
		return devVersion
	default:
		return v
	}
}
