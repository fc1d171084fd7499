package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/peer"
	"github.com/mcdev12/courtside/go/internal/session"
)

// Session is the slice of the live session the gateway consumes.
type Session interface {
	Snapshots() <-chan *models.LiveGameState
	Events() <-chan session.Event
}

// Service bridges a device's live session to spectator WebSocket clients.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	clock             clockwork.Clock
}

// NewService creates the gateway service.
func NewService(config ConnectionConfig, clock clockwork.Clock) *Service {
	cm := NewConnectionManager(config)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		clock:             clock,
	}
}

// Handler exposes the HTTP routes for this service.
func (s *Service) Handler() *WebSocketHandler {
	return s.wsHandler
}

// Manager exposes the connection manager, mainly for stats.
func (s *Service) Manager() *ConnectionManager {
	return s.connectionManager
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.connectionManager.Start(ctx)
}

// Attach pumps one session's snapshots and lifecycle events to the game's
// spectator pool until ctx is cancelled or the session's channels close.
func (s *Service) Attach(ctx context.Context, gameID uuid.UUID, sess Session) {
	log.Info().Str("game_id", gameID.String()).Msg("gateway attached to session")

	snapshots := sess.Snapshots()
	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			s.broadcastSnapshot(gameID, snap)

		case ev, ok := <-events:
			if !ok {
				return
			}
			s.broadcastLifecycle(gameID, ev)
		}
	}
}

func (s *Service) broadcastSnapshot(gameID uuid.UUID, snap *models.LiveGameState) {
	event, err := NewStateSnapshotEvent(snap, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build snapshot event")
		return
	}
	s.connectionManager.BroadcastToGame(gameID, event)
}

func (s *Service) broadcastLifecycle(gameID uuid.UUID, ev session.Event) {
	typ, ok := lifecycleEventType(ev.Kind)
	if !ok {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	event, err := NewLifecycleEvent(gameID, typ, ev.From, at)
	if err != nil {
		log.Error().Err(err).Msg("failed to build lifecycle event")
		return
	}
	s.connectionManager.BroadcastToGame(gameID, event)
}

func lifecycleEventType(kind peer.Kind) (EventType, bool) {
	switch kind {
	case peer.KindRecordingStarted:
		return EventTypeRecordingStarted, true
	case peer.KindRecordingStopped:
		return EventTypeRecordingStopped, true
	case peer.KindGameEnded:
		return EventTypeGameEnded, true
	}
	return "", false
}
