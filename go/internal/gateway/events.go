package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/courtside/go/internal/models"
)

// GameEvent is the wire envelope pushed to spectator WebSocket clients.
type GameEvent struct {
	ID        string          `json:"id"`
	GameID    string          `json:"game_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType classifies a spectator-facing event.
type EventType string

const (
	EventTypeStateSnapshot    EventType = "StateSnapshot"
	EventTypeRecordingStarted EventType = "RecordingStarted"
	EventTypeRecordingStopped EventType = "RecordingStopped"
	EventTypeGameEnded        EventType = "GameEnded"
)

// StateSnapshotPayload carries the full live document plus the server time
// it was taken at, so clients can extrapolate a running clock themselves.
type StateSnapshotPayload struct {
	State    models.LiveGameState `json:"state"`
	ServerAt time.Time            `json:"server_at"`
}

// LifecyclePayload carries recording and end-of-game notifications.
type LifecyclePayload struct {
	DeviceID string    `json:"device_id,omitempty"`
	At       time.Time `json:"at"`
}

// NewStateSnapshotEvent wraps a live game snapshot for broadcast.
func NewStateSnapshotEvent(g *models.LiveGameState, now time.Time) (*GameEvent, error) {
	return newEvent(g.GameID, EventTypeStateSnapshot, now, StateSnapshotPayload{State: *g, ServerAt: now})
}

// NewLifecycleEvent wraps a recording or game-ended notification.
func NewLifecycleEvent(gameID uuid.UUID, typ EventType, deviceID string, at time.Time) (*GameEvent, error) {
	return newEvent(gameID, typ, at, LifecyclePayload{DeviceID: deviceID, At: at})
}

func newEvent(gameID uuid.UUID, typ EventType, now time.Time, payload any) (*GameEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &GameEvent{
		ID:        uuid.New().String(),
		GameID:    gameID.String(),
		Type:      typ,
		Timestamp: now,
		Data:      data,
	}, nil
}

// ParseEventPayload decodes an event's data into its typed payload.
func ParseEventPayload(event *GameEvent) (any, error) {
	switch event.Type {
	case EventTypeStateSnapshot:
		var payload StateSnapshotPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRecordingStarted, EventTypeRecordingStopped, EventTypeGameEnded:
		var payload LifecyclePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
}
