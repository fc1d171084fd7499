package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcdev12/courtside/go/internal/models"
)

func dialGame(t *testing.T, srv *httptest.Server, gameID uuid.UUID, deviceID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game?game_id=" + gameID.String() + "&device_id=" + deviceID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *GameEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var event GameEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return &event
}

func newTestGateway(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)
	t.Cleanup(cancel)

	mux := http.NewServeMux()
	NewWebSocketHandler(cm).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return cm, srv
}

func waitForConnections(t *testing.T, cm *ConnectionManager, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cm.Stats().TotalConnections == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("connections never reached %d", want)
}

func TestBroadcastToGame(t *testing.T) {
	cm, srv := newTestGateway(t)
	gameID := uuid.New()
	otherGame := uuid.New()

	viewer := dialGame(t, srv, gameID, "viewer1")
	bystander := dialGame(t, srv, otherGame, "viewer2")
	waitForConnections(t, cm, 2)

	g := &models.LiveGameState{GameID: gameID, TeamName: "Wildcats", Opponent: "Falcons", HomeScore: 10, AwayScore: 7}
	event, err := NewStateSnapshotEvent(g, time.Now())
	if err != nil {
		t.Fatalf("NewStateSnapshotEvent() = %v", err)
	}
	cm.BroadcastToGame(gameID, event)

	got := readEvent(t, viewer)
	if got.Type != EventTypeStateSnapshot {
		t.Fatalf("event type = %s, want %s", got.Type, EventTypeStateSnapshot)
	}
	payload, err := ParseEventPayload(got)
	if err != nil {
		t.Fatalf("ParseEventPayload() = %v", err)
	}
	snap, ok := payload.(StateSnapshotPayload)
	if !ok {
		t.Fatalf("payload type = %T", payload)
	}
	if snap.State.HomeScore != 10 || snap.State.AwayScore != 7 {
		t.Fatalf("score = %d-%d, want 10-7", snap.State.HomeScore, snap.State.AwayScore)
	}

	// The other game's pool must stay quiet.
	bystander.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := bystander.ReadMessage(); err == nil {
		t.Fatal("connection on another game received the broadcast")
	}
}

func TestBroadcastToDevice(t *testing.T) {
	cm, srv := newTestGateway(t)
	gameID := uuid.New()

	target := dialGame(t, srv, gameID, "late-joiner")
	other := dialGame(t, srv, gameID, "viewer1")
	waitForConnections(t, cm, 2)

	event, err := NewLifecycleEvent(gameID, EventTypeRecordingStarted, "recorder1", time.Now())
	if err != nil {
		t.Fatalf("NewLifecycleEvent() = %v", err)
	}
	cm.BroadcastToDevice(gameID, "late-joiner", event)

	got := readEvent(t, target)
	if got.Type != EventTypeRecordingStarted {
		t.Fatalf("event type = %s, want %s", got.Type, EventTypeRecordingStarted)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("untargeted device received the targeted send")
	}
}

func TestConnectionStatsEndpoint(t *testing.T) {
	cm, srv := newTestGateway(t)
	gameID := uuid.New()
	dialGame(t, srv, gameID, "viewer1")
	waitForConnections(t, cm, 1)

	resp, err := http.Get(srv.URL + "/ws/stats")
	if err != nil {
		t.Fatalf("GET /ws/stats: %v", err)
	}
	defer resp.Body.Close()

	var stats ConnectionStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalConnections != 1 || stats.ActiveGames != 1 {
		t.Fatalf("stats = %+v, want one connection on one game", stats)
	}
	if stats.GameConnections[gameID.String()] != 1 {
		t.Fatalf("per-game count missing: %+v", stats.GameConnections)
	}
}

func TestUpgradeRejectsBadGameID(t *testing.T) {
	_, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/ws/game?game_id=not-a-uuid")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	resp2, err := http.Get(srv.URL + "/ws/game")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp2.StatusCode, http.StatusBadRequest)
	}
}
