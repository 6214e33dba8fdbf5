package main

import (
	"runtime/debug"
	"testing"
)

func TestVersionFor(t *testing.T) {
	vcs := func(rev, modified string) *debug.BuildInfo {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "(devel)"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: rev},
				{Key: "vcs.modified", Value: modified},
			},
		}
	}
	tests := []struct {
		name    string
		stamped string
		info    *debug.BuildInfo
		want    string
	}{
		{"stamped wins", "v1.2.3", vcs("abc", "true"), "v1.2.3"},
		{"no build info", "dev", nil, "dev"},
		{"go install", "dev", &debug.BuildInfo{Main: debug.Module{Version: "v0.4.0"}}, "v0.4.0"},
		{"clean checkout", "dev", vcs("0123456789abcdef", "false"), "devel+0123456789ab"},
		{"dirty checkout", "dev", vcs("abc123", "true"), "devel+abc123+dirty"},
		{"no vcs", "dev", &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := versionFor(tt.stamped, tt.info); got != tt.want {
				t.Fatalf("versionFor: got %q, want %q", got, tt.want)
			}
		})
	}
}
