package session

import (
	"time"

	"github.com/mcdev12/courtside/go/internal/clocksync"
	"github.com/mcdev12/courtside/go/internal/models"
)

// Reconcile merges an authoritative store update into the local working
// copy.
//
// Non-holders adopt the incoming state verbatim, except that the clock
// baseline is only snapped to the server's when the two extrapolated values
// diverge beyond snapThreshold or disagree on running state; small
// divergence is left to the clock engine so the displayed clock does not
// jump on every network update.
//
// Holders keep every field they are actively authoring (score, clock,
// period, stats, player status) and adopt only the opponent-driven fields:
// the control token, including hand-over requests and the case where the
// store says control moved away from this device.
func Reconcile(local, incoming *models.LiveGameState, isHolder bool, now time.Time, snapThreshold time.Duration) *models.LiveGameState {
	if local == nil {
		return incoming.Clone()
	}
	if incoming == nil {
		return local
	}

	if isHolder {
		merged := local.Clone()
		merged.Control = incoming.Clone().Control
		return merged
	}

	merged := incoming.Clone()
	if !clockDiverged(local, incoming, now, snapThreshold) {
		merged.ClockValue = local.ClockValue
		merged.ClockRunning = local.ClockRunning
		merged.ClockReferenceWall = cloneTime(local.ClockReferenceWall)
		merged.ClockValueAtReference = cloneDuration(local.ClockValueAtReference)
		merged.LastClockUpdate = local.LastClockUpdate
	}
	return merged
}

func clockDiverged(local, incoming *models.LiveGameState, now time.Time, threshold time.Duration) bool {
	if local.ClockRunning != incoming.ClockRunning {
		return true
	}
	delta := clocksync.Current(local, now) - clocksync.Current(incoming, now)
	if delta < 0 {
		delta = -delta
	}
	return delta > threshold
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}
