package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/peer"
	"github.com/mcdev12/courtside/go/internal/store"
)

type captureSink struct {
	mu      sync.Mutex
	records []*models.LiveGameState
}

func (s *captureSink) CreateFinalRecord(ctx context.Context, g *models.LiveGameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, g)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type countingStore struct {
	store.Store
	mu   sync.Mutex
	puts int
}

func (s *countingStore) Put(ctx context.Context, g *models.LiveGameState) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.Store.Put(ctx, g)
}

func (s *countingStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// silentStore never delivers change notifications, leaving writes visible
// only to explicit reads.
type silentStore struct {
	store.Store
}

func (s *silentStore) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan *models.LiveGameState, error) {
	return make(chan *models.LiveGameState), nil
}

func testGameParams() GameParams {
	return GameParams{
		TeamName:        "Wildcats",
		Opponent:        "Falcons",
		PeriodLengthMin: 10,
		NumPeriods:      4,
		Format:          models.GameFormatPeriods,
	}
}

// startSession runs an orchestrator loop for the test's lifetime and blocks
// until the loop is accepting commands.
func startSession(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})

	waitFor(t, func() bool {
		_, err := o.Snapshot(context.Background())
		return err == nil
	}, "orchestrator loop did not start")
}

// waitFor polls for an asynchronous condition with a real-time deadline. The
// fake clock stays frozen while polling, so only channel plumbing is raced.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCreateGame(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()

	g, err := CreateGame(context.Background(), st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}
	if g.CurrentPeriod != 1 {
		t.Fatalf("period = %d, want 1", g.CurrentPeriod)
	}
	if g.ClockValue != 10*time.Minute {
		t.Fatalf("clock = %v, want 10m", g.ClockValue)
	}
	if g.ClockRunning {
		t.Fatal("clock must start paused")
	}
	if !g.PlayerOnBench {
		t.Fatal("tracked player must start on the bench")
	}
	if !g.Control.Unowned() {
		t.Fatal("control must start unowned")
	}

	stored, err := st.Get(context.Background(), g.GameID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if stored.GameID != g.GameID {
		t.Fatal("stored game id mismatch")
	}

	if _, err := CreateGame(context.Background(), st, clock, GameParams{PeriodLengthMin: 0, NumPeriods: 4}); err == nil {
		t.Fatal("zero period length must be rejected")
	}
}

func TestEditsRequireControl(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	o := New(DefaultConfig(), Identity{DeviceID: "dev1", UserID: "u1"}, g.GameID, st, nil, &captureSink{}, clock)
	startSession(t, o)

	// No control yet: the edit is silently dropped.
	if err := o.AddPoints(ctx, true, 2); err != nil {
		t.Fatalf("AddPoints() = %v", err)
	}
	snap, err := o.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if snap.HomeScore != 0 {
		t.Fatalf("score without control = %d, want 0", snap.HomeScore)
	}

	if err := o.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}
	has, err := o.HasControl(ctx)
	if err != nil {
		t.Fatalf("HasControl() = %v", err)
	}
	if !has {
		t.Fatal("unowned token must be auto-acquired")
	}

	if err := o.AddPoints(ctx, true, 3); err != nil {
		t.Fatalf("AddPoints() = %v", err)
	}
	snap, err = o.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if snap.HomeScore != 3 {
		t.Fatalf("score = %d, want 3", snap.HomeScore)
	}

	if err := o.AddPoints(ctx, true, 0); err == nil {
		t.Fatal("zero points must be rejected")
	}
}

func TestCooperativeControlHandover(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	hub := peer.NewLoopbackHub()
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	x := New(DefaultConfig(), Identity{DeviceID: "devX", UserID: "u1", Role: models.RoleController}, g.GameID, st, hub.Endpoint("devX"), &captureSink{}, clock)
	y := New(DefaultConfig(), Identity{DeviceID: "devY", UserID: "u2", Role: models.RoleViewer}, g.GameID, st, hub.Endpoint("devY"), &captureSink{}, clock)
	startSession(t, x)
	startSession(t, y)

	if err := x.RequestControl(ctx); err != nil {
		t.Fatalf("x.RequestControl() = %v", err)
	}

	// Y asks for control; the request must not grab the token by itself.
	if err := y.RequestControl(ctx); err != nil {
		t.Fatalf("y.RequestControl() = %v", err)
	}
	if has, _ := y.HasControl(ctx); has {
		t.Fatal("requesting must not transfer control")
	}

	// X sees the pending request through the store channel.
	waitFor(t, func() bool {
		snap, err := x.Snapshot(ctx)
		return err == nil && snap.Control.Request != nil && snap.Control.Request.DeviceID == "devY"
	}, "pending request never reached the holder")

	if err := x.GrantControl(ctx); err != nil {
		t.Fatalf("x.GrantControl() = %v", err)
	}
	if has, _ := x.HasControl(ctx); has {
		t.Fatal("granting must release the holder")
	}
	waitFor(t, func() bool {
		has, err := y.HasControl(ctx)
		return err == nil && has
	}, "grant never reached the requester")

	// Only the new holder can edit now.
	if err := y.AddPoints(ctx, false, 2); err != nil {
		t.Fatalf("y.AddPoints() = %v", err)
	}
	if err := x.AddPoints(ctx, true, 2); err != nil {
		t.Fatalf("x.AddPoints() = %v", err)
	}
	snap, err := y.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if snap.HomeScore != 0 || snap.AwayScore != 2 {
		t.Fatalf("score = %d-%d, want 0-2", snap.HomeScore, snap.AwayScore)
	}
}

func TestDenyControlRequest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	x := New(DefaultConfig(), Identity{DeviceID: "devX", UserID: "u1"}, g.GameID, st, nil, &captureSink{}, clock)
	y := New(DefaultConfig(), Identity{DeviceID: "devY", UserID: "u2"}, g.GameID, st, nil, &captureSink{}, clock)
	startSession(t, x)
	startSession(t, y)

	if err := x.RequestControl(ctx); err != nil {
		t.Fatalf("x.RequestControl() = %v", err)
	}
	if err := y.RequestControl(ctx); err != nil {
		t.Fatalf("y.RequestControl() = %v", err)
	}
	waitFor(t, func() bool {
		snap, err := x.Snapshot(ctx)
		return err == nil && snap.Control.Request != nil
	}, "request never reached the holder")

	if err := x.DenyControlRequest(ctx); err != nil {
		t.Fatalf("x.DenyControlRequest() = %v", err)
	}
	if has, _ := x.HasControl(ctx); !has {
		t.Fatal("deny must keep the holder")
	}
	waitFor(t, func() bool {
		snap, err := x.Snapshot(ctx)
		return err == nil && snap.Control.Request == nil
	}, "denied request never cleared")
}

func TestAutomaticPeriodAdvance(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	ctx := context.Background()

	params := testGameParams()
	params.PeriodLengthMin = 1
	params.NumPeriods = 2
	g, err := CreateGame(ctx, st, clock, params)
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	o := New(DefaultConfig(), Identity{DeviceID: "dev1", UserID: "u1"}, g.GameID, st, nil, &captureSink{}, clock)
	startSession(t, o)

	if err := o.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}
	if err := o.StartClock(ctx); err != nil {
		t.Fatalf("StartClock() = %v", err)
	}

	clock.Advance(time.Minute)
	// Ticks are delivered on fake-clock steps; keep stepping until the
	// zero-crossing tick lands.
	waitFor(t, func() bool {
		clock.Advance(DefaultConfig().TickInterval)
		snap, err := o.Snapshot(ctx)
		return err == nil && snap.CurrentPeriod == 2
	}, "period never advanced at the zero-crossing")

	snap, err := o.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if snap.ClockValue != time.Minute {
		t.Fatalf("clock after advance = %v, want full period length", snap.ClockValue)
	}
	if snap.ClockRunning {
		t.Fatal("clock must be paused for the inter-period break")
	}

	// The transition is persisted immediately, not debounced.
	stored, err := st.Get(ctx, g.GameID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if stored.CurrentPeriod != 2 {
		t.Fatalf("stored period = %d, want 2", stored.CurrentPeriod)
	}

	// Final regulation period: no auto-advance past NumPeriods.
	if err := o.StartClock(ctx); err != nil {
		t.Fatalf("StartClock() = %v", err)
	}
	clock.Advance(time.Minute)
	for i := 0; i < 5; i++ {
		clock.Advance(DefaultConfig().TickInterval)
	}
	snap, err = o.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if snap.CurrentPeriod != 2 {
		t.Fatalf("period = %d, ending regulation must stay manual", snap.CurrentPeriod)
	}

	// Manual advance past regulation goes to overtime length.
	if err := o.AdvancePeriod(ctx); err != nil {
		t.Fatalf("AdvancePeriod() = %v", err)
	}
	snap, err = o.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if snap.CurrentPeriod != 3 {
		t.Fatalf("period = %d, want overtime period 3", snap.CurrentPeriod)
	}
	if snap.ClockValue != DefaultConfig().OvertimeLength {
		t.Fatalf("overtime clock = %v, want %v", snap.ClockValue, DefaultConfig().OvertimeLength)
	}
}

func TestStalePeerMessagesDiscarded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	hub := peer.NewLoopbackHub()
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	sender := hub.Endpoint("devX")
	y := New(DefaultConfig(), Identity{DeviceID: "devY", UserID: "u2", Role: models.RoleViewer}, g.GameID, st, hub.Endpoint("devY"), &captureSink{}, clock)
	startSession(t, y)

	send := func(seq uint64, secs float64) {
		t.Helper()
		env, err := peer.NewEnvelope(g.GameID, "devX", peer.KindClockControl, seq, peer.ClockControlPayload{
			Running:      false,
			ClockSeconds: secs,
			At:           clock.Now(),
		}, clock.Now())
		if err != nil {
			t.Fatalf("NewEnvelope() = %v", err)
		}
		if err := sender.Send(ctx, env); err != nil {
			t.Fatalf("Send() = %v", err)
		}
	}

	send(5, 300)
	waitFor(t, func() bool {
		snap, err := y.Snapshot(ctx)
		return err == nil && snap.ClockValue == 300*time.Second
	}, "fresh clock delta not applied")

	// A delayed older message arrives after the newer one: dropped.
	send(3, 999)
	send(6, 120)
	waitFor(t, func() bool {
		snap, err := y.Snapshot(ctx)
		return err == nil && snap.ClockValue == 120*time.Second
	}, "follow-up clock delta not applied")

	snap, err := y.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if snap.ClockValue == 999*time.Second {
		t.Fatal("stale message must not be applied")
	}
}

func TestDebounceCoalescesStoreWrites(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &countingStore{Store: store.NewMemoryStore()}
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	o := New(DefaultConfig(), Identity{DeviceID: "dev1", UserID: "u1"}, g.GameID, st, nil, &captureSink{}, clock)
	startSession(t, o)
	if err := o.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}

	base := st.putCount()
	for i := 0; i < 3; i++ {
		if err := o.AddPoints(ctx, true, 2); err != nil {
			t.Fatalf("AddPoints() = %v", err)
		}
	}
	if got := st.putCount(); got != base {
		t.Fatalf("edits wrote the store %d times before the debounce window", got-base)
	}

	clock.Advance(DefaultConfig().Debounce)
	waitFor(t, func() bool { return st.putCount() == base+1 }, "debounced write never fired")

	stored, err := st.Get(ctx, g.GameID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if stored.HomeScore != 6 {
		t.Fatalf("stored score = %d, want all edits coalesced to 6", stored.HomeScore)
	}
}

func TestFinishGame(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	sink := &captureSink{}
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	o := New(DefaultConfig(), Identity{DeviceID: "dev1", UserID: "u1"}, g.GameID, st, nil, sink, clock)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- o.Run(runCtx) }()
	waitFor(t, func() bool {
		_, err := o.Snapshot(ctx)
		return err == nil
	}, "orchestrator loop did not start")

	if err := o.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}
	if err := o.StartClock(ctx); err != nil {
		t.Fatalf("StartClock() = %v", err)
	}
	if err := o.SetPlayerOnCourt(ctx, true); err != nil {
		t.Fatalf("SetPlayerOnCourt() = %v", err)
	}
	clock.Advance(30 * time.Second)

	if err := o.Finish(ctx); err != nil {
		t.Fatalf("Finish() = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit after finish")
	}

	if sink.count() != 1 {
		t.Fatalf("final records = %d, want exactly 1", sink.count())
	}
	rec := sink.records[0]
	if rec.CurrentSegment != nil {
		t.Fatal("open segment must be closed before the final record")
	}
	if rec.PlayingMinutes < 0.49 || rec.PlayingMinutes > 0.51 {
		t.Fatalf("playing minutes = %v, want ~0.5", rec.PlayingMinutes)
	}
	if rec.ClockRunning {
		t.Fatal("final record must carry a paused clock")
	}

	if _, err := st.Get(ctx, g.GameID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("live document after finish: err = %v, want ErrNotFound", err)
	}

	// The loop is gone; the API reports that instead of hanging.
	if _, err := o.Snapshot(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Snapshot after finish = %v, want ErrStopped", err)
	}
}

func TestControlReleasedOnLeave(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	o := New(DefaultConfig(), Identity{DeviceID: "dev1", UserID: "u1"}, g.GameID, st, nil, &captureSink{}, clock)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(runCtx) }()
	waitFor(t, func() bool {
		_, err := o.Snapshot(ctx)
		return err == nil
	}, "orchestrator loop did not start")

	if err := o.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}
	stored, err := st.Get(ctx, g.GameID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if !stored.Control.HeldBy("dev1", "u1") {
		t.Fatal("control must be held before leaving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}

	stored, err = st.Get(ctx, g.GameID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if !stored.Control.Unowned() {
		t.Fatalf("control after leave = %+v, want unowned", stored.Control.Holder)
	}

	// A later device auto-acquires instead of finding a dead holder.
	o2 := New(DefaultConfig(), Identity{DeviceID: "dev2", UserID: "u2"}, g.GameID, st, nil, &captureSink{}, clock)
	startSession(t, o2)
	if err := o2.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}
	has, err := o2.HasControl(ctx)
	if err != nil {
		t.Fatalf("HasControl() = %v", err)
	}
	if !has {
		t.Fatal("released token must be auto-acquirable")
	}
}

func TestSnapshotsKeepNewest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore()
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	o := New(DefaultConfig(), Identity{DeviceID: "dev1", UserID: "u1"}, g.GameID, st, nil, &captureSink{}, clock)
	startSession(t, o)
	if err := o.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}

	// Overrun the snapshot buffer without consuming it.
	const edits = 80
	for i := 0; i < edits; i++ {
		if err := o.AddPoints(ctx, true, 1); err != nil {
			t.Fatalf("AddPoints() = %v", err)
		}
	}

	var last *models.LiveGameState
	for draining := true; draining; {
		select {
		case s := <-o.Snapshots():
			last = s
		default:
			draining = false
		}
	}
	if last == nil {
		t.Fatal("no snapshots delivered")
	}
	if last.HomeScore != edits {
		t.Fatalf("last snapshot score = %d, want %d (newest must survive overflow)", last.HomeScore, edits)
	}
}

func TestFlushPreservesStoredControlRequest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mem := store.NewMemoryStore()
	st := &silentStore{Store: mem}
	ctx := context.Background()

	g, err := CreateGame(ctx, st, clock, testGameParams())
	if err != nil {
		t.Fatalf("CreateGame() = %v", err)
	}

	o := New(DefaultConfig(), Identity{DeviceID: "dev1", UserID: "u1"}, g.GameID, st, nil, &captureSink{}, clock)
	startSession(t, o)
	if err := o.RequestControl(ctx); err != nil {
		t.Fatalf("RequestControl() = %v", err)
	}

	// A pending edit, then another device's hand-over request lands in the
	// store before the debounce window closes.
	if err := o.AddPoints(ctx, true, 2); err != nil {
		t.Fatalf("AddPoints() = %v", err)
	}
	stored, err := mem.Get(ctx, g.GameID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	stored.Control.Request = &models.ControlRequest{DeviceID: "devY", UserID: "u2", Since: clock.Now()}
	if err := mem.Put(ctx, stored); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	clock.Advance(DefaultConfig().Debounce)
	waitFor(t, func() bool {
		stored, err := mem.Get(ctx, g.GameID)
		return err == nil && stored.HomeScore == 2
	}, "debounced write never fired")

	stored, err = mem.Get(ctx, g.GameID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if stored.Control.Request == nil || stored.Control.Request.DeviceID != "devY" {
		t.Fatal("debounced write must carry the stored hand-over request forward")
	}
	if !stored.Control.HeldBy("dev1", "u1") {
		t.Fatal("holder must survive the merged write")
	}
}
