package clocksync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is the recommended 10 Hz display cadence.
const DefaultTickInterval = 100 * time.Millisecond

// Ticker drives periodic clock re-evaluation. It only delivers instants; the
// consumer (the session orchestrator) owns the game state and applies the
// engine functions itself, keeping all mutations on one goroutine.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration
}

// NewTicker creates a ticker on the given clock. In production pass
// clockwork.NewRealClock(); tests use a FakeClock.
func NewTicker(clock clockwork.Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{clock: clock, interval: interval}
}

// Run invokes onTick at the configured cadence until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context, onTick func(now time.Time)) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			onTick(t.clock.Now())
		}
	}
}
