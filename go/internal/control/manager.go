// Package control implements the single-writer mutual-exclusion token over a
// shared live game. Control is acquired unilaterally when unowned and handed
// over through a cooperative request/grant/deny handshake when it is not;
// holding is always derived from the shared document, never cached locally.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/store"
)

// DefaultRequestTTL is how long a pending hand-over request stays visible.
// Staleness is evaluated at read time; nothing auto-resolves an old request.
const DefaultRequestTTL = 120 * time.Second

// State is the control state machine position of one device for one game.
type State string

const (
	StateUnowned          State = "UNOWNED"
	StateRequesting       State = "REQUESTING"
	StateHeldBySelf       State = "HELD_BY_SELF"
	StateHeldByOther      State = "HELD_BY_OTHER"
	StatePendingFromOther State = "PENDING_REQUEST_FROM_OTHER"
)

// Manager drives one device's view of the control token. All operations are
// read-merge-write against the session store and safe to retry.
type Manager struct {
	store      store.Store
	clock      clockwork.Clock
	deviceID   string
	userID     string
	requestTTL time.Duration
}

// NewManager creates a control manager for one device identity.
func NewManager(st store.Store, clock clockwork.Clock, deviceID, userID string) *Manager {
	return &Manager{
		store:      st,
		clock:      clock,
		deviceID:   deviceID,
		userID:     userID,
		requestTTL: DefaultRequestTTL,
	}
}

// HasControl derives whether this device currently holds control. This is
// the only way a local "may I write" decision is ever made.
func (m *Manager) HasControl(g *models.LiveGameState) bool {
	return g.Control.HeldBy(m.deviceID, m.userID)
}

// StateOf classifies the shared document from this device's point of view.
func (m *Manager) StateOf(g *models.LiveGameState) State {
	switch {
	case g.Control.Unowned():
		return StateUnowned
	case m.HasControl(g):
		if m.PendingRequest(g) != nil {
			return StatePendingFromOther
		}
		return StateHeldBySelf
	case g.Control.Request != nil && g.Control.Request.DeviceID == m.deviceID:
		return StateRequesting
	default:
		return StateHeldByOther
	}
}

// PendingRequest returns the hand-over request the holder should surface, or
// nil when there is none or it has gone stale.
func (m *Manager) PendingRequest(g *models.LiveGameState) *models.ControlRequest {
	req := g.Control.Request
	if req == nil || req.StaleAt(m.clock.Now(), m.requestTTL) {
		return nil
	}
	return req
}

// RequestControl acquires control outright when the token is unowned, and
// otherwise records a cooperative hand-over request against the current
// holder. It never preempts. Transport errors are returned so a
// user-initiated request can surface them.
func (m *Manager) RequestControl(ctx context.Context, gameID uuid.UUID) (*models.LiveGameState, error) {
	g, err := m.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("request control: %w", err)
	}
	now := m.clock.Now()

	switch {
	case g.Control.Unowned():
		// No one is driving, so whoever shows up first drives.
		g.Control.Holder = &models.ControlParty{DeviceID: m.deviceID, UserID: m.userID}
		g.Control.Request = nil
		log.Info().Str("game_id", gameID.String()).Str("device_id", m.deviceID).Msg("acquired unowned control")
	case m.HasControl(g):
		return g, nil // already holding; retrying is a no-op
	default:
		if g.Control.Request != nil && g.Control.Request.DeviceID == m.deviceID {
			return g, nil // request already pending; keep the original timestamp
		}
		g.Control.Request = &models.ControlRequest{DeviceID: m.deviceID, UserID: m.userID, Since: now}
		log.Info().Str("game_id", gameID.String()).Str("device_id", m.deviceID).Msg("control hand-over requested")
	}

	if err := m.store.Put(ctx, g); err != nil {
		return nil, fmt.Errorf("request control: %w", err)
	}
	return g, nil
}

// GrantControl hands the token to the pending requester. Only the current
// holder can grant; calls without the token, or without a live request, are
// silent no-ops so a stale UI cannot corrupt the document.
func (m *Manager) GrantControl(ctx context.Context, gameID uuid.UUID) (*models.LiveGameState, error) {
	g, err := m.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("grant control: %w", err)
	}
	if !m.HasControl(g) {
		log.Debug().Str("game_id", gameID.String()).Msg("grant ignored: not holding control")
		return g, nil
	}
	req := m.PendingRequest(g)
	if req == nil {
		return g, nil
	}

	g.Control.Holder = &models.ControlParty{DeviceID: req.DeviceID, UserID: req.UserID}
	g.Control.Request = nil
	if err := m.store.Put(ctx, g); err != nil {
		return nil, fmt.Errorf("grant control: %w", err)
	}
	log.Info().Str("game_id", gameID.String()).Str("to_device", g.Control.Holder.DeviceID).Msg("control granted")
	return g, nil
}

// DenyControlRequest clears the pending request, holder unchanged. Holder
// only; otherwise a silent no-op.
func (m *Manager) DenyControlRequest(ctx context.Context, gameID uuid.UUID) (*models.LiveGameState, error) {
	g, err := m.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("deny control request: %w", err)
	}
	if !m.HasControl(g) || g.Control.Request == nil {
		return g, nil
	}

	g.Control.Request = nil
	if err := m.store.Put(ctx, g); err != nil {
		return nil, fmt.Errorf("deny control request: %w", err)
	}
	log.Info().Str("game_id", gameID.String()).Msg("control request denied")
	return g, nil
}

// ReleaseControl drops the token on leave/game-end so the next device can
// auto-acquire. Silent no-op when not holding.
func (m *Manager) ReleaseControl(ctx context.Context, gameID uuid.UUID) (*models.LiveGameState, error) {
	g, err := m.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("release control: %w", err)
	}
	if !m.HasControl(g) {
		return g, nil
	}
	g.Control.Holder = nil
	if err := m.store.Put(ctx, g); err != nil {
		return nil, fmt.Errorf("release control: %w", err)
	}
	return g, nil
}
