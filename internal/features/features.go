// Package features resolves named feature flags. The environment wins over
// the project config, which wins over the built-in default.
package features

import (
	"os"
	"slices"
	"strings"

	"github.com/marcus/gridsave/internal/config"
)

// Feature is a named on/off switch with a built-in default.
type Feature struct {
	Name        string
	Default     bool
	Description string
}

// Source names the layer a resolved value came from.
type Source string

const (
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceDefault Source = "default"
)

var (
	// FaultInjection lets the dev fault harness intercept autosave writes.
	// Builds tagged production ignore it.
	FaultInjection = register(Feature{
		Name:        "fault_injection",
		Description: "Apply forceError/forceConflict/forceLatencyMs to autosave writes",
	})

	EditorTUI = register(Feature{
		Name:        "editor_tui",
		Default:     true,
		Description: "Enable the interactive gridsave edit command",
	})

	// BatchSaves gives CLI editors one save lane per resource instead of per row.
	BatchSaves = register(Feature{
		Name:        "batch_saves",
		Description: "Save all dirty rows of a resource in one batch request",
	})
)

var registry = map[string]Feature{}

func register(f Feature) Feature {
	registry[f.Name] = f
	return f
}

// ListAll returns every registered feature ordered by name.
func ListAll() []Feature {
	out := make([]Feature, 0, len(registry))
	for _, f := range registry {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Feature) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// IsKnownFeature reports whether name (in any case) is registered.
func IsKnownFeature(name string) bool {
	_, ok := registry[canonical(name)]
	return ok
}

func IsEnabled(baseDir, name string) bool {
	on, _ := Resolve(baseDir, name)
	return on
}

// IsEnabledForProcess skips the project config. Command registration runs
// before the base directory is known.
func IsEnabledForProcess(name string) bool {
	on, _ := Resolve("", name)
	return on
}

// Resolve returns the effective value of name and the layer that decided it.
// An empty baseDir skips the config layer. Unknown features resolve to off.
func Resolve(baseDir, name string) (bool, Source) {
	name = canonical(name)
	if on, ok := fromEnv(os.Getenv, name); ok {
		return on, SourceEnv
	}
	if baseDir != "" {
		if cfg, err := config.Load(baseDir); err == nil {
			if on, ok := cfg.FeatureFlags[name]; ok {
				return on, SourceConfig
			}
		}
	}
	return registry[name].Default, SourceDefault
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// fromEnv checks, in order: the GRIDSAVE_DISABLE_EXPERIMENTAL kill switch,
// GRIDSAVE_FEATURE_<NAME>, then the GRIDSAVE_DISABLE_FEATURE(S) and
// GRIDSAVE_ENABLE_FEATURE(S) comma lists.
func fromEnv(getenv func(string) string, name string) (on, ok bool) {
	if off, set := parseBool(getenv("GRIDSAVE_DISABLE_EXPERIMENTAL")); set && off {
		return false, true
	}
	if v, set := parseBool(getenv("GRIDSAVE_FEATURE_" + envKey(name))); set {
		return v, true
	}
	for _, list := range []struct {
		vars []string
		on   bool
	}{
		{[]string{"GRIDSAVE_DISABLE_FEATURE", "GRIDSAVE_DISABLE_FEATURES"}, false},
		{[]string{"GRIDSAVE_ENABLE_FEATURE", "GRIDSAVE_ENABLE_FEATURES"}, true},
	} {
		for _, v := range list.vars {
			if listed(getenv(v), name) {
				return list.on, true
			}
		}
	}
	return false, false
}

// envKey upper-cases name and maps anything outside [A-Z0-9] to '_'.
func envKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.ToUpper(name))
}

func parseBool(v string) (value, set bool) {
	switch canonical(v) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	}
	return false, false
}

func listed(raw, name string) bool {
	for _, item := range strings.Split(raw, ",") {
		if canonical(item) == name {
			return true
		}
	}
	return false
}
