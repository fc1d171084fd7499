package record

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Schema for the archive table. Applied at startup; the table is
// append-only so there are no migrations beyond creation.
const schema = `
CREATE TABLE IF NOT EXISTS game_records (
    game_id         UUID PRIMARY KEY,
    team_name       TEXT NOT NULL,
    opponent        TEXT NOT NULL,
    location        TEXT,
    game_format     TEXT NOT NULL,
    periods_played  INT NOT NULL,
    home_score      INT NOT NULL,
    away_score      INT NOT NULL,
    playing_minutes DOUBLE PRECISION NOT NULL,
    bench_minutes   DOUBLE PRECISION NOT NULL,
    stats           JSONB,
    segments        JSONB,
    ended_at        TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS game_records_ended_at_idx ON game_records (ended_at DESC);
`

// EnsureSchema creates the archive table if it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

// GameRecordRow mirrors one game_records row.
type GameRecordRow struct {
	GameID         uuid.UUID
	TeamName       string
	Opponent       string
	Location       sql.NullString
	GameFormat     string
	PeriodsPlayed  int
	HomeScore      int
	AwayScore      int
	PlayingMinutes float64
	BenchMinutes   float64
	Stats          pqtype.NullRawMessage
	Segments       pqtype.NullRawMessage
	EndedAt        time.Time
	CreatedAt      time.Time
}

// CreateGameRecordParams carries the insert values for one archive row.
type CreateGameRecordParams struct {
	GameID         uuid.UUID
	TeamName       string
	Opponent       string
	Location       sql.NullString
	GameFormat     string
	PeriodsPlayed  int
	HomeScore      int
	AwayScore      int
	PlayingMinutes float64
	BenchMinutes   float64
	Stats          pqtype.NullRawMessage
	Segments       pqtype.NullRawMessage
	EndedAt        time.Time
}

// Queries runs the record SQL against one transaction.
type Queries struct {
	tx *sql.Tx
}

// New binds a query set to a transaction.
func New(tx *sql.Tx) *Queries {
	return &Queries{tx: tx}
}

const createGameRecord = `
INSERT INTO game_records (
    game_id, team_name, opponent, location, game_format, periods_played,
    home_score, away_score, playing_minutes, bench_minutes, stats, segments, ended_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (game_id) DO NOTHING
`

// CreateGameRecord inserts one archive row. Re-finishing the same game is a
// no-op so the exactly-once guarantee holds across retries.
func (q *Queries) CreateGameRecord(ctx context.Context, arg CreateGameRecordParams) error {
	_, err := q.tx.ExecContext(ctx, createGameRecord,
		arg.GameID, arg.TeamName, arg.Opponent, arg.Location, arg.GameFormat,
		arg.PeriodsPlayed, arg.HomeScore, arg.AwayScore,
		arg.PlayingMinutes, arg.BenchMinutes, arg.Stats, arg.Segments, arg.EndedAt,
	)
	return err
}

const getGameRecord = `
SELECT game_id, team_name, opponent, location, game_format, periods_played,
       home_score, away_score, playing_minutes, bench_minutes, stats, segments,
       ended_at, created_at
FROM game_records WHERE game_id = $1
`

// GetGameRecord fetches one archive row by the shared game id.
func (q *Queries) GetGameRecord(ctx context.Context, gameID uuid.UUID) (GameRecordRow, error) {
	var row GameRecordRow
	err := q.tx.QueryRowContext(ctx, getGameRecord, gameID).Scan(
		&row.GameID, &row.TeamName, &row.Opponent, &row.Location, &row.GameFormat,
		&row.PeriodsPlayed, &row.HomeScore, &row.AwayScore,
		&row.PlayingMinutes, &row.BenchMinutes, &row.Stats, &row.Segments,
		&row.EndedAt, &row.CreatedAt,
	)
	return row, err
}

const listGameRecords = `
SELECT game_id, team_name, opponent, location, game_format, periods_played,
       home_score, away_score, playing_minutes, bench_minutes, stats, segments,
       ended_at, created_at
FROM game_records ORDER BY ended_at DESC LIMIT $1
`

// ListGameRecords returns the most recently finished games.
func (q *Queries) ListGameRecords(ctx context.Context, limit int) ([]GameRecordRow, error) {
	rows, err := q.tx.QueryContext(ctx, listGameRecords, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GameRecordRow
	for rows.Next() {
		var row GameRecordRow
		if err := rows.Scan(
			&row.GameID, &row.TeamName, &row.Opponent, &row.Location, &row.GameFormat,
			&row.PeriodsPlayed, &row.HomeScore, &row.AwayScore,
			&row.PlayingMinutes, &row.BenchMinutes, &row.Stats, &row.Segments,
			&row.EndedAt, &row.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
