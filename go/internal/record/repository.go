package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/sqlutil"
)

// ErrRecordNotFound is returned when no archive entry exists for a game id.
var ErrRecordNotFound = errors.New("game record not found")

// Repository implements game archive data access on Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new record repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateGameRecord writes one archive row inside a transaction. Duplicate
// game ids are silently ignored by the insert.
func (r *Repository) CreateGameRecord(ctx context.Context, rec *models.GameRecord) error {
	statsJSON, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	segmentsJSON, err := json.Marshal(rec.Segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	err = sqlutil.Run(ctx, r.db, New, func(q *Queries) error {
		return q.CreateGameRecord(ctx, CreateGameRecordParams{
			GameID:         rec.GameID,
			TeamName:       rec.TeamName,
			Opponent:       rec.Opponent,
			Location:       sqlutil.ToSqlString(rec.Location),
			GameFormat:     string(rec.Format),
			PeriodsPlayed:  rec.PeriodsPlayed,
			HomeScore:      rec.HomeScore,
			AwayScore:      rec.AwayScore,
			PlayingMinutes: rec.PlayingMinutes,
			BenchMinutes:   rec.BenchMinutes,
			Stats:          pqtype.NullRawMessage{RawMessage: statsJSON, Valid: len(statsJSON) > 0},
			Segments:       pqtype.NullRawMessage{RawMessage: segmentsJSON, Valid: len(segmentsJSON) > 0},
			EndedAt:        rec.EndedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create game record: %w", err)
	}
	return nil
}

// GetGameRecord retrieves one archive entry by game id.
func (r *Repository) GetGameRecord(ctx context.Context, gameID uuid.UUID) (*models.GameRecord, error) {
	var row GameRecordRow
	err := sqlutil.Run(ctx, r.db, New, func(q *Queries) error {
		var err error
		row, err = q.GetGameRecord(ctx, gameID)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game record: %w", err)
	}
	return rowToModel(row)
}

// ListGameRecords returns up to limit archive entries, most recent first.
func (r *Repository) ListGameRecords(ctx context.Context, limit int) ([]models.GameRecord, error) {
	var rows []GameRecordRow
	err := sqlutil.Run(ctx, r.db, New, func(q *Queries) error {
		var err error
		rows, err = q.ListGameRecords(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list game records: %w", err)
	}

	out := make([]models.GameRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func rowToModel(row GameRecordRow) (*models.GameRecord, error) {
	rec := &models.GameRecord{
		GameID:         row.GameID,
		TeamName:       row.TeamName,
		Opponent:       row.Opponent,
		Location:       sqlutil.FromSqlStringPtr(row.Location),
		Format:         models.GameFormat(row.GameFormat),
		PeriodsPlayed:  row.PeriodsPlayed,
		HomeScore:      row.HomeScore,
		AwayScore:      row.AwayScore,
		PlayingMinutes: row.PlayingMinutes,
		BenchMinutes:   row.BenchMinutes,
		EndedAt:        row.EndedAt,
		CreatedAt:      row.CreatedAt,
	}
	if row.Stats.Valid {
		if err := json.Unmarshal(row.Stats.RawMessage, &rec.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
	}
	if row.Segments.Valid {
		if err := json.Unmarshal(row.Segments.RawMessage, &rec.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
	}
	return rec, nil
}
