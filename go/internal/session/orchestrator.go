// Package session ties the coordination layer together: it owns the local
// working copy of one LiveGameState, authorizes local edits against the
// control token, fans edits out over the peer channel immediately and the
// session store after a debounce, and reconciles inbound updates from both
// transports back into the working copy.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/courtside/go/internal/clocksync"
	"github.com/mcdev12/courtside/go/internal/control"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/peer"
	"github.com/mcdev12/courtside/go/internal/segments"
	"github.com/mcdev12/courtside/go/internal/store"
)

// ErrStopped is returned by API calls once the orchestrator loop has exited.
var ErrStopped = errors.New("session orchestrator stopped")

// Identity is what the external pairing subsystem supplies for this device.
type Identity struct {
	DeviceID string
	UserID   string
	Role     models.SessionRole
}

// FinishSink receives the final immutable record exactly once at game end,
// keyed by the same game id as the live session.
type FinishSink interface {
	CreateFinalRecord(ctx context.Context, g *models.LiveGameState) error
}

// Event surfaces peer lifecycle signals (recording control, game ended) to
// the embedding presentation layer.
type Event struct {
	Kind peer.Kind
	From string
	At   time.Time
}

// Config holds the session timing knobs.
type Config struct {
	TickInterval       time.Duration
	Debounce           time.Duration
	KeepAliveInterval  time.Duration
	AnnounceInterval   time.Duration
	ClockSnapThreshold time.Duration
	OvertimeLength     time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		TickInterval:       clocksync.DefaultTickInterval,
		Debounce:           time.Second,
		KeepAliveInterval:  2500 * time.Millisecond,
		AnnounceInterval:   15 * time.Second,
		ClockSnapThreshold: 5 * time.Second,
		OvertimeLength:     5 * time.Minute,
	}
}

// Orchestrator is the single writer of the local working copy. All state
// access funnels through its run loop; public methods post commands and wait,
// so there is no shared-memory locking around the game document.
type Orchestrator struct {
	cfg      Config
	identity Identity
	gameID   uuid.UUID

	store   store.Store
	peerCh  peer.Channel
	control *control.Manager
	sink    FinishSink
	clock   clockwork.Clock
	roles   *RoleTracker

	local    *models.LiveGameState
	seq      uint64
	inbound  *peer.SeqTracker
	dirty    bool
	advanced bool // period auto-advance already fired for the current zero-crossing
	finished bool

	debounce clockwork.Timer

	cmdCh     chan func(ctx context.Context, now time.Time)
	snapshots chan *models.LiveGameState
	events    chan Event
	stopped   chan struct{}
}

// New creates an orchestrator for one device joining one game. The game
// document must already exist in the store (see CreateGame).
func New(cfg Config, id Identity, gameID uuid.UUID, st store.Store, ch peer.Channel, sink FinishSink, clock clockwork.Clock) *Orchestrator {
	roles := NewRoleTracker()
	if id.Role.Active() {
		_ = roles.Assign(id.Role)
	}
	return &Orchestrator{
		cfg:       cfg,
		identity:  id,
		gameID:    gameID,
		store:     st,
		peerCh:    ch,
		control:   control.NewManager(st, clock, id.DeviceID, id.UserID),
		sink:      sink,
		clock:     clock,
		roles:     roles,
		inbound:   peer.NewSeqTracker(),
		cmdCh:     make(chan func(ctx context.Context, now time.Time)),
		snapshots: make(chan *models.LiveGameState, 64),
		events:    make(chan Event, 16),
		stopped:   make(chan struct{}),
	}
}

// GameParams describes a new game to create.
type GameParams struct {
	TeamName        string
	Opponent        string
	Location        *string
	PeriodLengthMin int
	NumPeriods      int
	Format          models.GameFormat
}

// CreateGame writes the single authoritative live document for a new game.
// The creating device is expected to join it as controller.
func CreateGame(ctx context.Context, st store.Store, clock clockwork.Clock, p GameParams) (*models.LiveGameState, error) {
	if p.PeriodLengthMin <= 0 || p.NumPeriods <= 0 {
		return nil, fmt.Errorf("invalid game format: %d periods of %d min", p.NumPeriods, p.PeriodLengthMin)
	}
	g := &models.LiveGameState{
		GameID:          uuid.New(),
		TeamName:        p.TeamName,
		Opponent:        p.Opponent,
		Location:        p.Location,
		PeriodLengthMin: p.PeriodLengthMin,
		NumPeriods:      p.NumPeriods,
		Format:          p.Format,
		CurrentPeriod:   1,
		ClockValue:      time.Duration(p.PeriodLengthMin) * time.Minute,
		LastClockUpdate: clock.Now(),
		PlayerOnBench:   true,
	}
	if err := st.Put(ctx, g); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	return g, nil
}

// Snapshots streams an immutable copy of the working state after every
// change. Slow consumers miss intermediate snapshots, never current ones.
func (o *Orchestrator) Snapshots() <-chan *models.LiveGameState {
	return o.snapshots
}

// Events streams recording and lifecycle signals from peers.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Role returns this device's session role.
func (o *Orchestrator) Role() models.SessionRole {
	return o.roles.Role()
}

// Run executes the session loop until ctx is cancelled or the game
// finishes. It must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)

	g, err := o.store.Get(ctx, o.gameID)
	if err != nil {
		return fmt.Errorf("load live game: %w", err)
	}
	o.local = g

	// A single-device session auto-assigns controller; anything joining a
	// multi-device session without a chosen role falls back to viewer.
	if o.peerCh == nil {
		o.roles.AutoAssignController()
	} else {
		o.roles.Resolve()
	}

	updates, err := o.store.Subscribe(ctx, o.gameID)
	if err != nil {
		return fmt.Errorf("subscribe live game: %w", err)
	}

	ticks := make(chan time.Time, 1)
	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	go clocksync.NewTicker(o.clock, o.cfg.TickInterval).Run(tickCtx, func(now time.Time) {
		// The loop re-evaluates on the next tick anyway; never block here.
		select {
		case ticks <- now:
		default:
		}
	})

	keepAlive := o.clock.NewTicker(o.cfg.KeepAliveInterval)
	defer keepAlive.Stop()
	announce := o.clock.NewTicker(o.cfg.AnnounceInterval)
	defer announce.Stop()

	o.debounce = o.clock.NewTimer(o.cfg.Debounce)
	if !o.debounce.Stop() {
		<-o.debounce.Chan()
	}
	defer o.debounce.Stop()

	var peerMsgs <-chan peer.Envelope
	if o.peerCh != nil {
		peerMsgs = o.peerCh.Receive()
	}

	log.Info().
		Str("game_id", o.gameID.String()).
		Str("device_id", o.identity.DeviceID).
		Str("role", string(o.roles.Role())).
		Msg("session started")

	for {
		select {
		case <-ctx.Done():
			leaveCtx := context.WithoutCancel(ctx)
			o.flush(leaveCtx)
			o.releaseControl(leaveCtx)
			o.roles.Clear()
			return nil

		case cmd := <-o.cmdCh:
			cmd(ctx, o.clock.Now())
			if o.finished {
				o.roles.Clear()
				return nil
			}

		case incoming, ok := <-updates:
			if !ok {
				return nil
			}
			o.handleStoreUpdate(incoming)

		case env := <-peerMsgs:
			o.handlePeerMessage(env)
			if o.finished {
				o.roles.Clear()
				return nil
			}

		case now := <-ticks:
			o.handleTick(ctx, now)

		case <-o.debounce.Chan():
			o.flush(ctx)

		case <-keepAlive.Chan():
			if o.control.HasControl(o.local) && o.peerCh != nil {
				o.publish(peer.KindPing, nil)
			}

		case <-announce.Chan():
			// Full-state backup broadcast, independent of the debounce-driven
			// store writes: bounds the staleness window for a recorder that
			// missed a delta.
			if o.control.HasControl(o.local) && o.peerCh != nil {
				o.publish(peer.KindSnapshot, peer.SnapshotPayload{State: *o.local.Clone()})
			}
		}
	}
}

// do posts a command into the loop and waits for it to complete.
func (o *Orchestrator) do(ctx context.Context, fn func(ctx context.Context, now time.Time) error) error {
	done := make(chan error, 1)
	select {
	case o.cmdCh <- func(ctx context.Context, now time.Time) { done <- fn(ctx, now) }:
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current working state.
func (o *Orchestrator) Snapshot(ctx context.Context) (*models.LiveGameState, error) {
	var snap *models.LiveGameState
	err := o.do(ctx, func(ctx context.Context, now time.Time) error {
		snap = o.local.Clone()
		return nil
	})
	return snap, err
}

// edit runs a guarded local mutation: only the control holder writes, the
// delta goes out on the peer channel immediately, and the store write is
// debounced. Edits without control are dropped without error; the UI is
// expected to gate them before they get here.
func (o *Orchestrator) edit(kind peer.Kind, mutate func(now time.Time) any) func(ctx context.Context, now time.Time) error {
	return func(ctx context.Context, now time.Time) error {
		if !o.control.HasControl(o.local) {
			log.Debug().Str("kind", string(kind)).Str("device_id", o.identity.DeviceID).Msg("edit rejected: not holding control")
			return nil
		}
		payload := mutate(now)
		if o.peerCh != nil {
			o.publish(kind, payload)
		}
		o.markDirty()
		o.emitSnapshot()
		return nil
	}
}

// StartClock starts the game clock.
func (o *Orchestrator) StartClock(ctx context.Context) error {
	return o.do(ctx, o.edit(peer.KindClockControl, func(now time.Time) any {
		clocksync.Start(o.local, now)
		o.advanced = false
		return peer.ClockControlPayload{
			Running:      true,
			ClockSeconds: clocksync.Current(o.local, now).Seconds(),
			At:           now,
		}
	}))
}

// PauseClock pauses the game clock.
func (o *Orchestrator) PauseClock(ctx context.Context) error {
	return o.do(ctx, o.edit(peer.KindClockControl, func(now time.Time) any {
		clocksync.Pause(o.local, now)
		return peer.ClockControlPayload{
			Running:      false,
			ClockSeconds: o.local.ClockValue.Seconds(),
			At:           now,
		}
	}))
}

// AddClock adds (or removes, floored at zero) time on the clock.
func (o *Orchestrator) AddClock(ctx context.Context, d time.Duration) error {
	return o.do(ctx, o.edit(peer.KindClockControl, func(now time.Time) any {
		clocksync.Add(o.local, d, now)
		return peer.ClockControlPayload{
			Running:      o.local.ClockRunning,
			ClockSeconds: clocksync.Current(o.local, now).Seconds(),
			At:           now,
		}
	}))
}

// AddPoints records scored points for the home or away side.
func (o *Orchestrator) AddPoints(ctx context.Context, home bool, points int) error {
	if points <= 0 {
		return fmt.Errorf("points must be positive, got %d", points)
	}
	return o.do(ctx, o.edit(peer.KindScoreUpdate, func(now time.Time) any {
		if home {
			o.local.HomeScore += points
		} else {
			o.local.AwayScore += points
		}
		return peer.ScoreUpdatePayload{
			HomeScore: o.local.HomeScore,
			AwayScore: o.local.AwayScore,
			Period:    o.local.CurrentPeriod,
		}
	}))
}

// ApplyStat mutates the tracked player's counting stats. The mutation is
// validated before it is committed so attempted can never drop below made.
func (o *Orchestrator) ApplyStat(ctx context.Context, mutate func(*models.GameStats)) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		if !o.control.HasControl(o.local) {
			return nil
		}
		next := o.local.Stats
		mutate(&next)
		if err := next.Validate(); err != nil {
			return fmt.Errorf("stat edit rejected: %w", err)
		}
		o.local.Stats = next
		if o.peerCh != nil {
			o.publish(peer.KindScoreUpdate, peer.ScoreUpdatePayload{
				HomeScore: o.local.HomeScore,
				AwayScore: o.local.AwayScore,
				Period:    o.local.CurrentPeriod,
			})
		}
		o.markDirty()
		o.emitSnapshot()
		return nil
	})
}

// SetPlayerOnCourt toggles the tracked player between court and bench. The
// sequencing requirement (end the open segment, persist, then start the new
// one) is satisfied by closing and opening inside one serialized command and
// flushing the store write immediately rather than debouncing it.
func (o *Orchestrator) SetPlayerOnCourt(ctx context.Context, onCourt bool) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		if !o.control.HasControl(o.local) {
			return nil
		}
		segments.Start(o.local, onCourt, now)
		o.dirty = true
		o.flush(ctx)
		o.emitSnapshot()
		return nil
	})
}

// AdvancePeriod manually moves to the next period (including overtime).
func (o *Orchestrator) AdvancePeriod(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		if !o.control.HasControl(o.local) {
			return nil
		}
		o.advancePeriod(ctx, now)
		return nil
	})
}

// RequestControl acquires or requests the control token. Transport errors
// surface to the caller as a retryable error.
func (o *Orchestrator) RequestControl(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		g, err := o.control.RequestControl(ctx, o.gameID)
		if err != nil {
			return err
		}
		o.adoptControl(g)
		return nil
	})
}

// GrantControl hands the token to the pending requester.
func (o *Orchestrator) GrantControl(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		g, err := o.control.GrantControl(ctx, o.gameID)
		if err != nil {
			return err
		}
		o.adoptControl(g)
		return nil
	})
}

// DenyControlRequest clears the pending hand-over request.
func (o *Orchestrator) DenyControlRequest(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		g, err := o.control.DenyControlRequest(ctx, o.gameID)
		if err != nil {
			return err
		}
		o.adoptControl(g)
		return nil
	})
}

// HasControl reports whether this device currently holds the token.
func (o *Orchestrator) HasControl(ctx context.Context) (bool, error) {
	var has bool
	err := o.do(ctx, func(ctx context.Context, now time.Time) error {
		has = o.control.HasControl(o.local)
		return nil
	})
	return has, err
}

// RequestRecording asks the recorder peer to start or stop filming.
func (o *Orchestrator) RequestRecording(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		if o.peerCh == nil {
			return nil
		}
		o.publish(peer.KindRecordingRequest, peer.RecordingPayload{RequestedBy: o.identity.DeviceID})
		return nil
	})
}

// ReportRecording announces this device's recording state to its peers.
// Called by the recorder role when capture actually starts or stops.
func (o *Orchestrator) ReportRecording(ctx context.Context, started bool) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		if o.peerCh == nil {
			return nil
		}
		kind := peer.KindRecordingStarted
		if !started {
			kind = peer.KindRecordingStopped
		}
		o.publish(kind, peer.RecordingPayload{RequestedBy: o.identity.DeviceID})
		return nil
	})
}

// Finish ends the game: the clock is paused, any open time segment is
// closed, the final record is created under the live game's id, and only
// then is the live document deleted so readers never find a game in
// neither place.
func (o *Orchestrator) Finish(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context, now time.Time) error {
		if !o.control.HasControl(o.local) {
			return nil
		}
		clocksync.Pause(o.local, now)
		segments.EndCurrent(o.local, now)

		if err := o.sink.CreateFinalRecord(ctx, o.local.Clone()); err != nil {
			return fmt.Errorf("finish game: %w", err)
		}
		if err := o.store.Delete(ctx, o.gameID); err != nil {
			return fmt.Errorf("finish game: %w", err)
		}
		if o.peerCh != nil {
			o.publish(peer.KindGameEnded, peer.GameEndedPayload{EndedAt: now})
		}
		o.finished = true
		o.emitSnapshot()
		log.Info().Str("game_id", o.gameID.String()).Msg("game finished")
		return nil
	})
}

// releaseControl drops the token when this device leaves a still-live game,
// so a later device auto-acquires instead of finding a holder that is gone.
func (o *Orchestrator) releaseControl(ctx context.Context) {
	if o.finished || !o.control.HasControl(o.local) {
		return
	}
	if _, err := o.control.ReleaseControl(ctx, o.gameID); err != nil {
		log.Warn().Err(err).Str("game_id", o.gameID.String()).Msg("control release on leave failed")
	}
}

// adoptControl merges the control token from a fresh authoritative read.
func (o *Orchestrator) adoptControl(g *models.LiveGameState) {
	o.local.Control = g.Clone().Control
	o.emitSnapshot()
}

// handleTick re-evaluates the clock and, for the control holder only, fires
// the automatic period advance on the zero-crossing. Non-holders wait for
// the holder's update instead of self-advancing.
func (o *Orchestrator) handleTick(ctx context.Context, now time.Time) {
	if !o.local.ClockRunning || o.advanced {
		return
	}
	if clocksync.Current(o.local, now) > 0 {
		return
	}
	if !o.control.HasControl(o.local) {
		return
	}
	if o.local.CurrentPeriod >= o.local.NumPeriods {
		// Regulation is over; ending or going to overtime is a human call.
		return
	}
	o.advanced = true
	o.advancePeriod(ctx, now)
}

// advancePeriod moves to the next period, resets the clock baseline and
// persists immediately (not debounced) so every device converges fast.
func (o *Orchestrator) advancePeriod(ctx context.Context, now time.Time) {
	o.local.CurrentPeriod++
	length := o.local.PeriodLength()
	if o.local.CurrentPeriod > o.local.NumPeriods {
		length = o.cfg.OvertimeLength
	}
	clocksync.Reset(o.local, length, now)

	if o.peerCh != nil {
		o.publish(peer.KindPeriodChange, peer.PeriodChangePayload{
			Period:       o.local.CurrentPeriod,
			ClockSeconds: length.Seconds(),
		})
	}
	o.dirty = true
	o.flush(ctx)
	o.emitSnapshot()
	log.Info().Str("game_id", o.gameID.String()).Int("period", o.local.CurrentPeriod).Msg("period advanced")
}

// handleStoreUpdate reconciles an authoritative baseline into the working
// copy without clobbering holder-authored pending edits.
func (o *Orchestrator) handleStoreUpdate(incoming *models.LiveGameState) {
	now := o.clock.Now()
	isHolder := o.control.HasControl(o.local)
	o.local = Reconcile(o.local, incoming, isHolder, now, o.cfg.ClockSnapThreshold)
	o.emitSnapshot()
}

// handlePeerMessage applies a best-effort delta from another device. Stale
// or duplicated messages are dropped by sequence number; the control holder
// ignores content deltas outright since it is the author of record.
func (o *Orchestrator) handlePeerMessage(env peer.Envelope) {
	if env.GameID != o.gameID {
		return
	}
	if !o.inbound.Fresh(env) {
		log.Debug().Str("kind", string(env.Kind)).Uint64("seq", env.Seq).Msg("dropping stale peer message")
		return
	}
	payload, err := peer.ParsePayload(env)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed peer message")
		return
	}
	now := o.clock.Now()
	isHolder := o.control.HasControl(o.local)

	switch p := payload.(type) {
	case peer.ScoreUpdatePayload:
		if isHolder {
			return
		}
		o.local.HomeScore = p.HomeScore
		o.local.AwayScore = p.AwayScore
		o.local.CurrentPeriod = p.Period
		o.emitSnapshot()

	case peer.ClockControlPayload:
		if isHolder {
			return
		}
		value := time.Duration(p.ClockSeconds * float64(time.Second))
		if p.Running {
			at := p.At
			o.local.ClockRunning = true
			o.local.ClockValueAtReference = &value
			o.local.ClockReferenceWall = &at
		} else {
			clocksync.Reset(o.local, value, now)
		}
		o.local.LastClockUpdate = now
		o.emitSnapshot()

	case peer.PeriodChangePayload:
		if isHolder {
			return
		}
		o.local.CurrentPeriod = p.Period
		clocksync.Reset(o.local, time.Duration(p.ClockSeconds*float64(time.Second)), now)
		o.emitSnapshot()

	case peer.SnapshotPayload:
		if isHolder {
			return
		}
		o.local = Reconcile(o.local, &p.State, false, now, o.cfg.ClockSnapThreshold)
		o.emitSnapshot()

	case peer.RecordingPayload:
		o.emitEvent(Event{Kind: env.Kind, From: env.DeviceID, At: env.SentAt})

	case peer.GameEndedPayload:
		o.emitEvent(Event{Kind: env.Kind, From: env.DeviceID, At: p.EndedAt})
		o.finished = true

	case nil: // ping, presence only
	}
}

// flush persists the working copy if there are pending edits. Failures keep
// the dirty flag set so the next debounce window or tick retries; the store
// is read-merge-written as full documents only.
func (o *Orchestrator) flush(ctx context.Context) {
	if !o.dirty || o.finished {
		return
	}
	if !o.control.HasControl(o.local) {
		o.dirty = false // lost control mid-window; the holder's state wins
		return
	}
	// A full-document write would erase a hand-over request another device
	// stored since the last reconcile; pick it up before overwriting.
	if stored, err := o.store.Get(ctx, o.gameID); err == nil {
		if !o.control.HasControl(stored) {
			o.dirty = false
			return
		}
		if stored.Control.Request != nil && o.local.Control.Request == nil {
			o.local.Control = stored.Clone().Control
		}
	}
	if err := o.store.Put(ctx, o.local.Clone()); err != nil {
		log.Warn().Err(err).Str("game_id", o.gameID.String()).Msg("store write failed, will retry")
		o.debounce.Reset(o.cfg.Debounce)
		return
	}
	o.dirty = false
}

// markDirty flags pending edits and arms the debounce window.
func (o *Orchestrator) markDirty() {
	if !o.dirty {
		o.debounce.Reset(o.cfg.Debounce)
	}
	o.dirty = true
}

// publish sends a best-effort peer delta with the next sequence number.
func (o *Orchestrator) publish(kind peer.Kind, payload any) {
	if o.peerCh == nil {
		return
	}
	o.seq++
	env, err := peer.NewEnvelope(o.gameID, o.identity.DeviceID, kind, o.seq, payload, o.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("building peer envelope failed")
		return
	}
	if err := o.peerCh.Send(context.Background(), env); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("peer send failed")
	}
}

// emitSnapshot publishes the working state. When the buffer is full the
// oldest queued snapshot is dropped, never the newest.
func (o *Orchestrator) emitSnapshot() {
	snap := o.local.Clone()
	select {
	case o.snapshots <- snap:
	default:
		select {
		case <-o.snapshots:
		default:
		}
		select {
		case o.snapshots <- snap:
		default:
		}
	}
}

func (o *Orchestrator) emitEvent(ev Event) {
	select {
	case o.events <- ev:
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("event buffer full, dropping")
	}
}
