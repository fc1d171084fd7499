package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/mcdev12/courtside/go/internal/dbconfig"
	"github.com/mcdev12/courtside/go/internal/gateway"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/peer"
	"github.com/mcdev12/courtside/go/internal/record"
	"github.com/mcdev12/courtside/go/internal/session"
	"github.com/mcdev12/courtside/go/internal/store"
)

// Services holds the wired dependency chain for one device host:
// store layer → record layer → session orchestrator → spectator gateway.
type Services struct {
	Store       store.Store
	Records     *record.App
	Session     *session.Orchestrator
	Gateway     *gateway.Service
	PeerChannel peer.Channel
	GameID      uuid.UUID
}

func setupServices(ctx context.Context, cfg session.Config, database *sql.DB, redisClient *redis.Client) (*Services, error) {
	clock := clockwork.NewRealClock()

	if err := record.EnsureSchema(ctx, database); err != nil {
		return nil, fmt.Errorf("failed to ensure record schema: %w", err)
	}
	recordRepo := record.NewRepository(database)
	recordApp := record.NewApp(recordRepo, clock)

	st := store.NewRedisStore(redisClient)

	gameID, err := resolveGame(ctx, st, clock)
	if err != nil {
		return nil, err
	}

	identity := session.Identity{
		DeviceID: getEnv("DEVICE_ID", uuid.New().String()),
		UserID:   getEnv("USER_ID", "local"),
		Role:     models.SessionRole(getEnv("SESSION_ROLE", "")),
	}

	natsCfg := dbconfig.NewNATSConfigFromEnv()
	peerCh, err := peer.NewNATSChannel(peer.NATSConfig{
		URL:           natsCfg.URL,
		MaxReconnects: natsCfg.MaxReconnects,
		ReconnectWait: natsCfg.ReconnectWait,
	}, gameID, identity.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect peer channel: %w", err)
	}

	sess := session.New(cfg, identity, gameID, st, peerCh, recordApp, clock)
	gw := gateway.NewService(gateway.DefaultConnectionConfig(), clock)

	return &Services{
		Store:       st,
		Records:     recordApp,
		Session:     sess,
		Gateway:     gw,
		PeerChannel: peerCh,
		GameID:      gameID,
	}, nil
}

// resolveGame joins the game named by GAME_ID, or creates a fresh one from
// the GAME_* environment when none is given.
func resolveGame(ctx context.Context, st store.Store, clock clockwork.Clock) (uuid.UUID, error) {
	if raw := getEnv("GAME_ID", ""); raw != "" {
		gameID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid GAME_ID %q: %w", raw, err)
		}
		if _, err := st.Get(ctx, gameID); err != nil {
			return uuid.Nil, fmt.Errorf("failed to load game %s: %w", gameID, err)
		}
		return gameID, nil
	}

	params := session.GameParams{
		TeamName:        getEnv("GAME_TEAM", "Home"),
		Opponent:        getEnv("GAME_OPPONENT", "Away"),
		PeriodLengthMin: getEnvAsInt("GAME_PERIOD_MINUTES", 10),
		NumPeriods:      getEnvAsInt("GAME_NUM_PERIODS", 4),
		Format:          models.GameFormatPeriods,
	}
	if getEnvAsInt("GAME_NUM_PERIODS", 4) == 2 {
		params.Format = models.GameFormatHalves
	}
	if loc := getEnv("GAME_LOCATION", ""); loc != "" {
		params.Location = &loc
	}

	g, err := session.CreateGame(ctx, st, clock, params)
	if err != nil {
		return uuid.Nil, err
	}
	return g.GameID, nil
}
