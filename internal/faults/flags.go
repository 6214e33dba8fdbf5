// Package faults is the development fault-injection harness for autosave
// writes. Three persisted switches force a failure, add latency or force a
// version conflict at the point a write would be issued.
//
// Builds tagged "production" compile Wrap down to the identity, so the flags
// are never read there.
package faults

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Flag keys as stored in every backend.
const (
	KeyForceError     = "forceError"
	KeyForceConflict  = "forceConflict"
	KeyForceLatencyMs = "forceLatencyMs"
)

// Flags are the three independent switches.
type Flags struct {
	ForceError     bool `json:"forceError"`
	ForceConflict  bool `json:"forceConflict"`
	ForceLatencyMs int  `json:"forceLatencyMs"`
}

// Active reports whether any switch is on.
func (f Flags) Active() bool {
	return f.ForceError || f.ForceConflict || f.ForceLatencyMs > 0
}

// Latency returns the forced latency.
func (f Flags) Latency() time.Duration {
	return time.Duration(f.ForceLatencyMs) * time.Millisecond
}

func (f Flags) String() string {
	return fmt.Sprintf("forceError=%t forceConflict=%t forceLatencyMs=%d", f.ForceError, f.ForceConflict, f.ForceLatencyMs)
}

// Source supplies the current flags. It is consulted once per write.
type Source interface {
	Flags(ctx context.Context) (Flags, error)
}

// Store is a persisted Source.
type Store interface {
	Source
	Save(ctx context.Context, f Flags) error
	Clear(ctx context.Context) error
	Close() error
}

// Fixed is a Source that always returns the same flags.
type Fixed Flags

func (f Fixed) Flags(context.Context) (Flags, error) { return Flags(f), nil }

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	flags Flags
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Flags(context.Context) (Flags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags, nil
}

func (m *Memory) Save(_ context.Context, f Flags) error {
	if err := f.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.flags = f
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.flags = Flags{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Validate rejects negative latency.
func (f Flags) Validate() error {
	if f.ForceLatencyMs < 0 {
		return fmt.Errorf("forceLatencyMs must be >= 0, got %d", f.ForceLatencyMs)
	}
	return nil
}

func toValues(f Flags) map[string]string {
	return map[string]string{
		KeyForceError:     strconv.FormatBool(f.ForceError),
		KeyForceConflict:  strconv.FormatBool(f.ForceConflict),
		KeyForceLatencyMs: strconv.Itoa(f.ForceLatencyMs),
	}
}

// fromValues parses stored values. Missing keys keep their zero value.
func fromValues(values map[string]string) (Flags, error) {
	var f Flags
	for key, raw := range values {
		raw = strings.TrimSpace(raw)
		switch key {
		case KeyForceError:
			b, err := parseBool(raw)
			if err != nil {
				return Flags{}, fmt.Errorf("parse %s: %w", key, err)
			}
			f.ForceError = b
		case KeyForceConflict:
			b, err := parseBool(raw)
			if err != nil {
				return Flags{}, fmt.Errorf("parse %s: %w", key, err)
			}
			f.ForceConflict = b
		case KeyForceLatencyMs:
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Flags{}, fmt.Errorf("parse %s: %w", key, err)
			}
			f.ForceLatencyMs = n
		}
	}
	return f, f.Validate()
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "off", "no":
		return false, nil
	case "1", "true", "on", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

// Open opens the store named by target: a redis:// or rediss:// URL selects
// Redis, anything else is a SQLite file path.
func Open(target string) (Store, error) {
	if strings.HasPrefix(target, "redis://") || strings.HasPrefix(target, "rediss://") {
		return NewRedisStore(target)
	}
	return OpenSQLite(target)
}
