package main

import (
	"runtime/debug"

	"github.com/marcus/gridsave/cmd"
)

// Version is stamped by release builds with -ldflags "-X main.Version=vX.Y.Z".
var Version = "dev"

func main() {
	info, _ := debug.ReadBuildInfo()
	cmd.SetVersion(versionFor(Version, info))
	cmd.Execute()
}

// versionFor prefers a stamped version, then the module version recorded by
// go install, then "devel+<rev>[+dirty]" from VCS stamping.
func versionFor(stamped string, info *debug.BuildInfo) string {
	if stamped != "" && stamped != "dev" {
		return stamped
	}
	if info == nil {
		return stamped
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	vcs := map[string]string{}
	for _, s := range info.Settings {
		vcs[s.Key] = s.Value
	}
	rev := vcs["vcs.revision"]
	if rev == "" {
		return stamped
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := "devel+" + rev
	if vcs["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}
