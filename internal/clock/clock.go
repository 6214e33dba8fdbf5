// Package clock holds timing helpers shared by the autosave engine and the
// fault harness. Time itself comes from clockwork so both can run on a fake
// clock in tests.
package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sleep blocks for d on c, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, c clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
