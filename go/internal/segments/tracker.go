// Package segments maintains the tracked player's on-court/bench intervals
// and the cumulative minute totals derived from them. EndCurrent is the only
// place the cumulative totals are mutated, so "sum of closed segments" and
// "displayed totals" can never drift apart.
package segments

import (
	"time"

	"github.com/mcdev12/courtside/go/internal/models"
)

// EndCurrent closes the open segment at instant now, appends it to the
// segment history and folds its duration into the matching cumulative total.
// Calling it with no open segment is a no-op, not an error; it reports
// whether a segment was actually closed.
func EndCurrent(g *models.LiveGameState, now time.Time) bool {
	if g.CurrentSegment == nil {
		return false
	}
	seg := *g.CurrentSegment
	end := now
	if end.Before(seg.StartTime) {
		end = seg.StartTime
	}
	seg.EndTime = &end

	minutes := seg.Duration(now).Minutes()
	if seg.OnCourt {
		g.PlayingMinutes += minutes
	} else {
		g.BenchMinutes += minutes
	}
	g.Segments = append(g.Segments, seg)
	g.CurrentSegment = nil
	return true
}

// Start opens a new segment at instant now. Any segment still open is closed
// first so two open segments can never coexist, even if a caller raced two
// quick status toggles.
func Start(g *models.LiveGameState, onCourt bool, now time.Time) {
	EndCurrent(g, now)
	g.CurrentSegment = &models.TimeSegment{StartTime: now, OnCourt: onCourt}
	g.PlayerOnBench = !onCourt
}

// PlayingMinutes returns the live playing total: the closed-segment sum plus
// the elapsed time of an open on-court segment. No write is needed to keep a
// display current.
func PlayingMinutes(g *models.LiveGameState, now time.Time) float64 {
	total := g.PlayingMinutes
	if g.CurrentSegment != nil && g.CurrentSegment.OnCourt {
		total += g.CurrentSegment.Duration(now).Minutes()
	}
	return total
}

// BenchMinutes returns the live bench total, symmetric to PlayingMinutes.
func BenchMinutes(g *models.LiveGameState, now time.Time) float64 {
	total := g.BenchMinutes
	if g.CurrentSegment != nil && !g.CurrentSegment.OnCourt {
		total += g.CurrentSegment.Duration(now).Minutes()
	}
	return total
}
