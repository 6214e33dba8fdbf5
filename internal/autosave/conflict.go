package autosave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/gridsave/internal/changehash"
)

// ConflictAction is what to do with a row whose write hit a stale version.
type ConflictAction int

const (
	// ActionSurface leaves the row in error until the user decides.
	ActionSurface ConflictAction = iota
	// ActionOverwrite re-sends the local snapshot against the server version.
	ActionOverwrite
	// ActionDiscardLocal adopts the server copy as the new baseline.
	ActionDiscardLocal
)

func (a ConflictAction) String() string {
	switch a {
	case ActionOverwrite:
		return "overwrite"
	case ActionDiscardLocal:
		return "discard_local"
	default:
		return "surface"
	}
}

// Conflict describes a rejected write whose expected version was stale.
type Conflict struct {
	ResourceID      string
	LocalSnapshot   any
	LocalHash       changehash.Digest
	ExpectedVersion *int64
	ServerVersion   *int64
	ServerUpdatedAt time.Time
}

// Resolution is a policy decision. Snapshot and Version are only used by
// ActionDiscardLocal and hold the server copy to adopt.
type Resolution struct {
	Action   ConflictAction
	Snapshot any
	Version  *int64
}

// ConflictPolicy decides what happens automatically after a conflict.
// Resolve runs off the editor loop and may do I/O.
type ConflictPolicy interface {
	Resolve(ctx context.Context, c Conflict) (Resolution, error)
}

// PolicyFunc adapts a function to ConflictPolicy.
type PolicyFunc func(ctx context.Context, c Conflict) (Resolution, error)

func (f PolicyFunc) Resolve(ctx context.Context, c Conflict) (Resolution, error) { return f(ctx, c) }

// SurfacePolicy never resolves automatically.
var SurfacePolicy ConflictPolicy = PolicyFunc(func(context.Context, Conflict) (Resolution, error) {
	return Resolution{Action: ActionSurface}, nil
})

// OverwritePolicy re-sends local data whenever the server reports its
// current version. Without a server version it surfaces.
var OverwritePolicy ConflictPolicy = PolicyFunc(func(_ context.Context, c Conflict) (Resolution, error) {
	if c.ServerVersion == nil {
		return Resolution{Action: ActionSurface}, nil
	}
	return Resolution{Action: ActionOverwrite}, nil
})

// DiscardLocalPolicy replaces local data with the server copy loaded by f.
func DiscardLocalPolicy(f Fetcher) ConflictPolicy {
	return PolicyFunc(func(ctx context.Context, c Conflict) (Resolution, error) {
		doc, err := f.Fetch(ctx, c.ResourceID)
		if err != nil {
			return Resolution{Action: ActionSurface}, fmt.Errorf("fetch server copy %s: %w", c.ResourceID, err)
		}
		return Resolution{
			Action:   ActionDiscardLocal,
			Snapshot: doc.Payload,
			Version:  Version(doc.Version),
		}, nil
	})
}

// PolicyByName returns a named policy. "discard_local" needs a Fetcher.
func PolicyByName(name string, f Fetcher) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "surface", "manual":
		return SurfacePolicy, nil
	case "overwrite":
		return OverwritePolicy, nil
	case "discard_local", "discard":
		if f == nil {
			return nil, fmt.Errorf("conflict policy %q needs a fetcher", name)
		}
		return DiscardLocalPolicy(f), nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", name)
	}
}

// ParseConflictAction parses a user supplied action name.
func ParseConflictAction(s string) (ConflictAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "surface", "keep":
		return ActionSurface, nil
	case "overwrite":
		return ActionOverwrite, nil
	case "discard_local", "discard":
		return ActionDiscardLocal, nil
	default:
		return ActionSurface, fmt.Errorf("unknown conflict action %q", s)
	}
}
