//go:build !production

package faults

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/marcus/gridsave/internal/autosave"
	"github.com/marcus/gridsave/internal/clock"
)

// Enabled reports whether this build carries the harness.
const Enabled = true

// Config is the harness configuration handed to Wrap once per editor.
type Config struct {
	Source Source
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Wrap returns a BatchWriter that reads the flags before every write and
// substitutes latency, a failure or a conflict response. A nil Source
// disables the harness.
func Wrap(next autosave.BatchWriter, cfg Config) autosave.BatchWriter {
	if cfg.Source == nil {
		return next
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &injector{next: next, cfg: cfg}
}

type injector struct {
	next autosave.BatchWriter
	cfg  Config
}

func (i *injector) WriteBatch(ctx context.Context, reqs []autosave.WriteRequest) ([]autosave.ItemResult, error) {
	flags, err := i.cfg.Source.Flags(ctx)
	if err != nil {
		// a broken switchboard must never block real writes
		i.cfg.Logger.Warn("faults: read flags", "err", err)
		return i.next.WriteBatch(ctx, reqs)
	}
	if !flags.Active() {
		return i.next.WriteBatch(ctx, reqs)
	}

	if d := flags.Latency(); d > 0 {
		i.cfg.Logger.Debug("faults: forced latency", "ms", flags.ForceLatencyMs, "items", len(reqs))
		if err := clock.Sleep(ctx, i.cfg.Clock, d); err != nil {
			return nil, err
		}
	}
	if flags.ForceError {
		i.cfg.Logger.Debug("faults: forced failure", "items", len(reqs))
		return nil, &autosave.SaveError{
			Kind:    autosave.KindNetwork,
			Code:    autosave.CodeNetworkFailure,
			Message: "forced failure (fault injection)",
		}
	}
	if flags.ForceConflict {
		i.cfg.Logger.Debug("faults: forced conflict", "items", len(reqs))
		return ConflictResults(reqs, i.cfg.Clock.Now()), nil
	}
	return i.next.WriteBatch(ctx, reqs)
}

// ConflictResults builds the batch response a server sends when every item
// hit a stale version.
func ConflictResults(reqs []autosave.WriteRequest, serverUpdatedAt time.Time) []autosave.ItemResult {
	out := make([]autosave.ItemResult, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, autosave.ItemResult{
			ItemID:          req.ResourceID,
			Error:           autosave.CodeVersionConflict,
			Code:            autosave.CodeVersionConflict,
			ServerUpdatedAt: serverUpdatedAt,
		})
	}
	return out
}
