package version

import (
	"runtime/debug"
	"testing"
)

func TestString(t *testing.T) {
	restore := buildInfo
	defer func() { buildInfo = restore }()

	cases := []struct {
		name          string
		moduleVersion string
		ok            bool
		want          string
	}{
		{"tagged release", "v1.4.2", true, "v1.4.2"},
		{"go run build", "(devel)", true, devVersion},
		{"empty version", "", true, devVersion},
		{"no build info", "", false, devVersion},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buildInfo = func() (*debug.BuildInfo, bool) {
				if !c.ok {
					return nil, false
				}
				return &debug.BuildInfo{
					Main: debug.Module{
						Path:    "github.com/fleetcomply/fleetcomply",
						Version: c.moduleVersion,
					},
				}, true
			}

			if got := String(); got != c.want {
				t.Errorf("String() = %q, want %q", got, c.want)
			}
		})
	}
}
