package autosave

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDebounce is the idle window used when Options.Debounce is zero.
const DefaultDebounce = time.Second

// debouncer holds the idle timer of one lane. Every arm or stop bumps the
// generation so a fire that raced with a reset is recognized as stale.
type debouncer struct {
	clock  clockwork.Clock
	window time.Duration
	timer  clockwork.Timer
	gen    uint64
}

// arm (re)starts the idle window. fire receives the generation it was armed
// with and must be checked with expire on the editor loop.
func (d *debouncer) arm(fire func(gen uint64)) {
	d.stop()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() { fire(gen) })
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// expire consumes a fire. It reports false for stale generations.
func (d *debouncer) expire(gen uint64) bool {
	if d.timer == nil || gen != d.gen {
		return false
	}
	d.timer = nil
	return true
}

func (d *debouncer) armed() bool { return d.timer != nil }
