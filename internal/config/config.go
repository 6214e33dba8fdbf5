// Package config loads and saves the per-project gridsave settings stored
// under .gridsave/ and applies GRIDSAVE_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus/gridsave/internal/autosave"
)

const (
	dirName  = ".gridsave"
	jsonFile = ".gridsave/config.json"
	yamlFile = ".gridsave/config.yaml"
	lockFile = ".gridsave/config.lock"
)

// Defaults
const (
	DefaultServerURL      = "http://127.0.0.1:8765"
	DefaultMode           = "row"
	DefaultConflictPolicy = "surface"
	DefaultFaultStore     = ".gridsave/faults.db"
)

// Config is the project configuration file.
type Config struct {
	Debounce       Duration        `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	Mode           string          `json:"mode,omitempty" yaml:"mode,omitempty"`
	ServerURL      string          `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	ConflictPolicy string          `json:"conflict_policy,omitempty" yaml:"conflict_policy,omitempty"`
	FaultStore     string          `json:"fault_store,omitempty" yaml:"fault_store,omitempty"`
	FeatureFlags   map[string]bool `json:"feature_flags,omitempty" yaml:"feature_flags,omitempty"`
}

// Duration is a time.Duration written as "1s", "750ms" in config files.
// Bare numbers are read as milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
		return nil
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

// ParseDuration parses "1s", "750ms" or a bare millisecond count.
func ParseDuration(s string) (Duration, error) {
	var d Duration
	err := d.parse(s)
	return d, err
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err == nil && fmt.Sprint(ms) == s {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return fmt.Errorf("invalid duration %q", s)
}

// WithDefaults returns a copy of c with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = Duration(autosave.DefaultDebounce)
	}
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = DefaultConflictPolicy
	}
	if c.FaultStore == "" {
		c.FaultStore = DefaultFaultStore
	}
	return c
}

// Validate checks the enumerated fields.
func (c Config) Validate() error {
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must be >= 0, got %s", c.Debounce)
	}
	if _, err := autosave.ParseMode(c.Mode); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.ConflictPolicy)) {
	case "", "surface", "manual", "overwrite", "discard", "discard_local":
	default:
		return fmt.Errorf("unknown conflict policy %q", c.ConflictPolicy)
	}
	return nil
}

// path returns the file backing the config in baseDir. YAML wins when both
// exist.
func path(baseDir string) (string, bool) {
	y := filepath.Join(baseDir, yamlFile)
	if _, err := os.Stat(y); err == nil {
		return y, true
	}
	return filepath.Join(baseDir, jsonFile), false
}

// Load reads the config from disk. A missing file yields an empty config.
func Load(baseDir string) (*Config, error) {
	p, isYAML := path(baseDir)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if isYAML {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(p), err)
	}
	return &cfg, nil
}

// Resolve loads the config, applies environment overrides and defaults and
// validates the result.
func Resolve(baseDir string) (Config, error) {
	cfg, err := Load(baseDir)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return Config{}, err
	}
	out := cfg.WithDefaults()
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// ApplyEnv overrides fields from GRIDSAVE_* variables.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("GRIDSAVE_DEBOUNCE"); v != "" {
		if err := cfg.Debounce.parse(v); err != nil {
			return fmt.Errorf("GRIDSAVE_DEBOUNCE: %w", err)
		}
	}
	if v := os.Getenv("GRIDSAVE_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("GRIDSAVE_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("GRIDSAVE_CONFLICT_POLICY"); v != "" {
		cfg.ConflictPolicy = v
	}
	if v := os.Getenv("GRIDSAVE_FAULT_STORE"); v != "" {
		cfg.FaultStore = v
	}
	return nil
}

// Save writes the config using atomic write (temp file + rename), keeping
// the format of the existing file.
func Save(baseDir string, cfg *Config) error {
	p, isYAML := path(baseDir)

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, p)
}

// withConfigLock serializes read-modify-write cycles across processes with
// an exclusive lock on .gridsave/config.lock.
func withConfigLock(baseDir string, fn func() error) error {
	lockPath := filepath.Join(baseDir, lockFile)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFileExclusive(f); err != nil {
		return fmt.Errorf("lock config: %w", err)
	}
	defer unlockFile(f)
	return fn()
}

// Update applies fn to the stored config under the config lock.
func Update(baseDir string, fn func(*Config) error) error {
	return withConfigLock(baseDir, func() error {
		cfg, err := Load(baseDir)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return Save(baseDir, cfg)
	})
}

// SetFeatureFlag persists a feature flag override.
func SetFeatureFlag(baseDir, name string, enabled bool) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("feature name is required")
	}
	return Update(baseDir, func(cfg *Config) error {
		if cfg.FeatureFlags == nil {
			cfg.FeatureFlags = make(map[string]bool)
		}
		cfg.FeatureFlags[name] = enabled
		return nil
	})
}

// UnsetFeatureFlag removes a feature flag override.
func UnsetFeatureFlag(baseDir, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	return Update(baseDir, func(cfg *Config) error {
		delete(cfg.FeatureFlags, name)
		if len(cfg.FeatureFlags) == 0 {
			cfg.FeatureFlags = nil
		}
		return nil
	})
}

// FaultStorePath resolves a relative SQLite fault store path against
// baseDir. Redis URLs are returned unchanged.
func FaultStorePath(baseDir, target string) string {
	if strings.Contains(target, "://") || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(baseDir, target)
}

// Dir returns the .gridsave directory under baseDir.
func Dir(baseDir string) string {
	return filepath.Join(baseDir, dirName)
}
