package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GameFormat defines how a game's regulation time is divided.
type GameFormat string

const (
	GameFormatPeriods GameFormat = "PERIODS"
	GameFormatHalves  GameFormat = "HALVES"
)

// TimeSegment is a contiguous interval during which the tracked player was
// continuously on court or continuously on the bench. EndTime == nil means
// the segment is still open.
type TimeSegment struct {
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	OnCourt   bool       `json:"on_court"`
}

// Open reports whether the segment has not been closed yet.
func (s TimeSegment) Open() bool {
	return s.EndTime == nil
}

// Duration returns the segment length, using now as the end for open segments.
func (s TimeSegment) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// GameStats holds the tracked player's counting stats. Attempted must stay
// >= made per shot category.
type GameStats struct {
	FieldGoalsMade      int `json:"fg_made"`
	FieldGoalsAttempted int `json:"fg_attempted"`
	ThreePointersMade   int `json:"three_made"`
	ThreePointersAtt    int `json:"three_attempted"`
	FreeThrowsMade      int `json:"ft_made"`
	FreeThrowsAttempted int `json:"ft_attempted"`
	Rebounds            int `json:"rebounds"`
	Assists             int `json:"assists"`
	Steals              int `json:"steals"`
	Blocks              int `json:"blocks"`
	Turnovers           int `json:"turnovers"`
	Fouls               int `json:"fouls"`
}

// Validate checks the attempted >= made >= 0 invariants.
func (s GameStats) Validate() error {
	checks := []struct {
		name      string
		made, att int
	}{
		{"field_goals", s.FieldGoalsMade, s.FieldGoalsAttempted},
		{"three_pointers", s.ThreePointersMade, s.ThreePointersAtt},
		{"free_throws", s.FreeThrowsMade, s.FreeThrowsAttempted},
	}
	for _, c := range checks {
		if c.made < 0 || c.att < 0 {
			return fmt.Errorf("%s counts must be non-negative", c.name)
		}
		if c.att < c.made {
			return fmt.Errorf("%s attempted (%d) < made (%d)", c.name, c.att, c.made)
		}
	}
	return nil
}

// LiveGameState is the shared working document for one active game. Exactly
// one exists per game in the session store; only the control holder may
// mutate score, clock, stats and player-status fields.
type LiveGameState struct {
	GameID   uuid.UUID `json:"game_id"`
	TeamName string    `json:"team_name"`
	Opponent string    `json:"opponent"`
	Location *string   `json:"location,omitempty"`

	PeriodLengthMin int        `json:"period_length_min"`
	NumPeriods      int        `json:"num_periods"`
	Format          GameFormat `json:"game_format"`

	HomeScore     int `json:"home_score"`
	AwayScore     int `json:"away_score"`
	CurrentPeriod int `json:"current_period"`

	// Clock baseline. ClockValue is authoritative while paused; while running
	// the pair (ClockReferenceWall, ClockValueAtReference) lets any device
	// extrapolate the current value from local wall-clock time alone.
	ClockValue            time.Duration  `json:"clock_value"`
	ClockRunning          bool           `json:"clock_running"`
	ClockReferenceWall    *time.Time     `json:"clock_reference_wall,omitempty"`
	ClockValueAtReference *time.Duration `json:"clock_value_at_reference,omitempty"`
	LastClockUpdate       time.Time      `json:"last_clock_update"`

	Control ControlToken `json:"control"`

	PlayerOnBench  bool          `json:"player_on_bench"`
	CurrentSegment *TimeSegment  `json:"current_segment,omitempty"`
	Segments       []TimeSegment `json:"segments"`
	PlayingMinutes float64       `json:"playing_minutes"`
	BenchMinutes   float64       `json:"bench_minutes"`

	Stats GameStats `json:"stats"`
}

// PeriodLength returns the regulation period length as a duration.
func (g *LiveGameState) PeriodLength() time.Duration {
	return time.Duration(g.PeriodLengthMin) * time.Minute
}

// Clone returns a deep copy safe to hand to another goroutine.
func (g *LiveGameState) Clone() *LiveGameState {
	if g == nil {
		return nil
	}
	cp := *g
	if g.Location != nil {
		loc := *g.Location
		cp.Location = &loc
	}
	if g.ClockReferenceWall != nil {
		t := *g.ClockReferenceWall
		cp.ClockReferenceWall = &t
	}
	if g.ClockValueAtReference != nil {
		d := *g.ClockValueAtReference
		cp.ClockValueAtReference = &d
	}
	cp.Control = g.Control.clone()
	if g.CurrentSegment != nil {
		seg := *g.CurrentSegment
		if g.CurrentSegment.EndTime != nil {
			end := *g.CurrentSegment.EndTime
			seg.EndTime = &end
		}
		cp.CurrentSegment = &seg
	}
	if g.Segments != nil {
		cp.Segments = make([]TimeSegment, len(g.Segments))
		copy(cp.Segments, g.Segments)
		for i, seg := range g.Segments {
			if seg.EndTime != nil {
				end := *seg.EndTime
				cp.Segments[i].EndTime = &end
			}
		}
	}
	return &cp
}
