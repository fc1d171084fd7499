package clocksync

import (
	"time"

	"github.com/mcdev12/courtside/go/internal/models"
)

// Pure game-clock math over the baseline fields of LiveGameState. Every
// device re-evaluates Current locally at tick cadence; no network call is
// ever needed to render the clock.

// Current computes the game clock at instant now. While running the value is
// extrapolated from the (reference wall time, value at reference) pair; while
// paused the stored value is authoritative. A running state missing its
// reference is malformed and falls back to the stored value.
func Current(g *models.LiveGameState, now time.Time) time.Duration {
	if !g.ClockRunning {
		return g.ClockValue
	}
	if g.ClockReferenceWall == nil || g.ClockValueAtReference == nil {
		return g.ClockValue
	}
	remaining := *g.ClockValueAtReference - now.Sub(*g.ClockReferenceWall)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Start begins the countdown from the stored clock value, anchoring the
// baseline at now. No-op if already running.
func Start(g *models.LiveGameState, now time.Time) {
	if g.ClockRunning {
		return
	}
	value := g.ClockValue
	ref := now
	g.ClockValueAtReference = &value
	g.ClockReferenceWall = &ref
	g.ClockRunning = true
	g.LastClockUpdate = now
}

// Pause freezes the clock at its current extrapolated value and clears the
// baseline. No-op if already paused.
func Pause(g *models.LiveGameState, now time.Time) {
	if !g.ClockRunning {
		return
	}
	g.ClockValue = Current(g, now)
	g.ClockRunning = false
	g.ClockReferenceWall = nil
	g.ClockValueAtReference = nil
	g.LastClockUpdate = now
}

// Add adjusts the clock by d (may be negative, floored at zero). While
// running the reference wall time is re-anchored at now so already-elapsed
// time is not counted twice.
func Add(g *models.LiveGameState, d time.Duration, now time.Time) {
	if g.ClockRunning {
		value := Current(g, now) + d
		if value < 0 {
			value = 0
		}
		ref := now
		g.ClockValueAtReference = &value
		g.ClockReferenceWall = &ref
	} else {
		g.ClockValue += d
		if g.ClockValue < 0 {
			g.ClockValue = 0
		}
	}
	g.LastClockUpdate = now
}

// Reset stops the clock and sets the stored value to d. Used on period
// transitions.
func Reset(g *models.LiveGameState, d time.Duration, now time.Time) {
	g.ClockValue = d
	g.ClockRunning = false
	g.ClockReferenceWall = nil
	g.ClockValueAtReference = nil
	g.LastClockUpdate = now
}
