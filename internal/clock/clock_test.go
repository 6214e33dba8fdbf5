package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestSleep_FakeClock(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Unix(0, 0))
	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), c, time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("sleep never registered a timer: %v", err)
	}
	select {
	case <-done:
		t.Fatal("sleep returned before advance")
	default:
	}
	c.Advance(time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sleep: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after advance")
	}
}

func TestSleep_ContextCancel(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Sleep(ctx, c, time.Hour) }()

	wait, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := c.BlockUntilContext(wait, 1); err != nil {
		t.Fatalf("sleep never registered a timer: %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("sleep: got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep ignored cancellation")
	}
}

func TestSleep_NonPositive(t *testing.T) {
	c := clockwork.NewFakeClock()
	if err := Sleep(context.Background(), c, 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, c, -time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("negative sleep on done ctx: got %v", err)
	}
}
