package models

import (
	"time"

	"github.com/google/uuid"
)

// GameRecord is the immutable archive entry written exactly once when a
// live game finishes. It shares the live game's id so history lookups and
// deep links keep working after the live document is gone.
type GameRecord struct {
	GameID         uuid.UUID     `json:"game_id"`
	TeamName       string        `json:"team_name"`
	Opponent       string        `json:"opponent"`
	Location       *string       `json:"location,omitempty"`
	Format         GameFormat    `json:"game_format"`
	PeriodsPlayed  int           `json:"periods_played"`
	HomeScore      int           `json:"home_score"`
	AwayScore      int           `json:"away_score"`
	PlayingMinutes float64       `json:"playing_minutes"`
	BenchMinutes   float64       `json:"bench_minutes"`
	Stats          GameStats     `json:"stats"`
	Segments       []TimeSegment `json:"segments"`
	EndedAt        time.Time     `json:"ended_at"`
	CreatedAt      time.Time     `json:"created_at"`
}
