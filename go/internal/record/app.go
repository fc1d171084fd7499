package record

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/courtside/go/internal/models"
)

// RecordRepository defines what the app layer needs from the repository.
type RecordRepository interface {
	CreateGameRecord(ctx context.Context, rec *models.GameRecord) error
	GetGameRecord(ctx context.Context, gameID uuid.UUID) (*models.GameRecord, error)
	ListGameRecords(ctx context.Context, limit int) ([]models.GameRecord, error)
}

// App handles game archive business logic. It is the finish sink for live
// sessions: the final snapshot of a live game flows in here once.
type App struct {
	repo  RecordRepository
	clock clockwork.Clock
}

// NewApp creates a new record App.
func NewApp(repo RecordRepository, clock clockwork.Clock) *App {
	return &App{repo: repo, clock: clock}
}

// CreateFinalRecord archives the final state of a finished live game. The
// live document keeps its period counter past regulation during overtime,
// so PeriodsPlayed carries whatever the counter reached.
func (a *App) CreateFinalRecord(ctx context.Context, g *models.LiveGameState) error {
	if g == nil {
		return fmt.Errorf("nil game state")
	}
	if g.CurrentSegment != nil {
		return fmt.Errorf("game %s still has an open time segment", g.GameID)
	}

	rec := &models.GameRecord{
		GameID:         g.GameID,
		TeamName:       g.TeamName,
		Opponent:       g.Opponent,
		Location:       g.Location,
		Format:         g.Format,
		PeriodsPlayed:  g.CurrentPeriod,
		HomeScore:      g.HomeScore,
		AwayScore:      g.AwayScore,
		PlayingMinutes: g.PlayingMinutes,
		BenchMinutes:   g.BenchMinutes,
		Stats:          g.Stats,
		Segments:       g.Segments,
		EndedAt:        a.clock.Now(),
	}

	if err := a.repo.CreateGameRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to archive game %s: %w", g.GameID, err)
	}

	log.Info().
		Str("game_id", g.GameID.String()).
		Int("home_score", g.HomeScore).
		Int("away_score", g.AwayScore).
		Float64("playing_minutes", g.PlayingMinutes).
		Msg("game archived")
	return nil
}

// GetGameRecord retrieves one archived game.
func (a *App) GetGameRecord(ctx context.Context, gameID uuid.UUID) (*models.GameRecord, error) {
	return a.repo.GetGameRecord(ctx, gameID)
}

// ListGameRecords returns recently archived games, newest first.
func (a *App) ListGameRecords(ctx context.Context, limit int) ([]models.GameRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return a.repo.ListGameRecords(ctx, limit)
}
