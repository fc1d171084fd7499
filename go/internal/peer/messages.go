// Package peer implements the low-latency device-to-device channel: an
// unreliable, best-effort broadcast between devices running the same game.
// Messages can be dropped or reordered; every envelope carries a per-device
// sequence number and receivers discard anything stale.
package peer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/courtside/go/internal/models"
)

// Kind identifies the message type carried by an envelope.
type Kind string

const (
	KindScoreUpdate      Kind = "ScoreUpdate"
	KindClockControl     Kind = "ClockControl"
	KindPeriodChange     Kind = "PeriodChange"
	KindSnapshot         Kind = "GameStateSnapshot"
	KindPing             Kind = "Ping"
	KindRecordingRequest Kind = "RecordingRequest"
	KindRecordingStarted Kind = "RecordingStarted"
	KindRecordingStopped Kind = "RecordingStopped"
	KindGameEnded        Kind = "GameEnded"
)

// Envelope is the wire frame for every peer message.
type Envelope struct {
	ID       string          `json:"id"`
	GameID   uuid.UUID       `json:"game_id"`
	DeviceID string          `json:"device_id"`
	Kind     Kind            `json:"kind"`
	Seq      uint64          `json:"seq"`
	SentAt   time.Time       `json:"sent_at"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ScoreUpdatePayload carries the score after a controller edit.
type ScoreUpdatePayload struct {
	HomeScore int `json:"home_score"`
	AwayScore int `json:"away_score"`
	Period    int `json:"period"`
}

// ClockControlPayload carries a start/pause transition plus the clock value
// at the moment of the transition so receivers can re-anchor their baseline.
type ClockControlPayload struct {
	Running      bool      `json:"running"`
	ClockSeconds float64   `json:"clock_seconds"`
	At           time.Time `json:"at"`
}

// PeriodChangePayload announces a period transition.
type PeriodChangePayload struct {
	Period       int     `json:"period"`
	ClockSeconds float64 `json:"clock_seconds"`
}

// SnapshotPayload carries a full game state, used for the periodic backup
// re-announce and for resyncing a device that missed deltas.
type SnapshotPayload struct {
	State models.LiveGameState `json:"state"`
}

// RecordingPayload addresses the recorder device.
type RecordingPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// GameEndedPayload tells peers to tear down promptly instead of waiting for
// the store deletion to propagate.
type GameEndedPayload struct {
	EndedAt time.Time `json:"ended_at"`
}

// NewEnvelope builds an envelope with a marshalled payload. A nil payload is
// allowed for kinds that carry none (ping).
func NewEnvelope(gameID uuid.UUID, deviceID string, kind Kind, seq uint64, payload any, now time.Time) (Envelope, error) {
	env := Envelope{
		ID:       uuid.New().String(),
		GameID:   gameID,
		DeviceID: deviceID,
		Kind:     kind,
		Seq:      seq,
		SentAt:   now,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Data = data
	}
	return env, nil
}

// ParsePayload decodes the envelope's payload into its typed struct.
func ParsePayload(env Envelope) (any, error) {
	switch env.Kind {
	case KindScoreUpdate:
		var p ScoreUpdatePayload
		err := unmarshalInto(env, &p)
		return p, err
	case KindClockControl:
		var p ClockControlPayload
		err := unmarshalInto(env, &p)
		return p, err
	case KindPeriodChange:
		var p PeriodChangePayload
		err := unmarshalInto(env, &p)
		return p, err
	case KindSnapshot:
		var p SnapshotPayload
		err := unmarshalInto(env, &p)
		return p, err
	case KindRecordingRequest, KindRecordingStarted, KindRecordingStopped:
		var p RecordingPayload
		err := unmarshalInto(env, &p)
		return p, err
	case KindGameEnded:
		var p GameEndedPayload
		err := unmarshalInto(env, &p)
		return p, err
	case KindPing:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown peer message kind %q", env.Kind)
	}
}

func unmarshalInto(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s envelope has no payload", env.Kind)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
	}
	return nil
}

// SeqTracker records the highest sequence number applied per sender and
// message kind, so reordered or duplicated deliveries are dropped silently.
type SeqTracker struct {
	applied map[string]uint64
}

// NewSeqTracker creates an empty tracker.
func NewSeqTracker() *SeqTracker {
	return &SeqTracker{applied: make(map[string]uint64)}
}

// Fresh reports whether the envelope is newer than anything already applied
// from its sender for its kind, and records it if so.
func (t *SeqTracker) Fresh(env Envelope) bool {
	key := env.DeviceID + "/" + string(env.Kind)
	if last, ok := t.applied[key]; ok && env.Seq <= last {
		return false
	}
	t.applied[key] = env.Seq
	return true
}
