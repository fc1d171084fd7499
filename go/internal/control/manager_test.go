package control

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/store"
)

func seedGame(t *testing.T, st store.Store) uuid.UUID {
	t.Helper()
	g := &models.LiveGameState{
		GameID:          uuid.New(),
		TeamName:        "Wildcats",
		Opponent:        "Hawks",
		PeriodLengthMin: 10,
		NumPeriods:      4,
		Format:          models.GameFormatPeriods,
		CurrentPeriod:   1,
		ClockValue:      10 * time.Minute,
	}
	if err := st.Put(context.Background(), g); err != nil {
		t.Fatalf("seed game: %v", err)
	}
	return g.GameID
}

func TestAutoAcquireWhenUnowned(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	gameID := seedGame(t, st)

	m := NewManager(st, clock, "dev-a", "coach")
	g, err := m.RequestControl(ctx, gameID)
	if err != nil {
		t.Fatalf("request control: %v", err)
	}
	if !m.HasControl(g) {
		t.Fatal("expected auto-acquire of unowned control")
	}
	if m.StateOf(g) != StateHeldBySelf {
		t.Fatalf("state = %s, want HELD_BY_SELF", m.StateOf(g))
	}

	// Retrying is idempotent.
	g, err = m.RequestControl(ctx, gameID)
	if err != nil || !m.HasControl(g) {
		t.Fatalf("retry broke control: %v", err)
	}
}

func TestConcurrentRequestsSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	gameID := seedGame(t, st)

	const devices = 8
	managers := make([]*Manager, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		managers[i] = NewManager(st, clock, fmt.Sprintf("dev-%d", i), fmt.Sprintf("user-%d", i))
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			if _, err := m.RequestControl(ctx, gameID); err != nil {
				t.Errorf("request control: %v", err)
			}
		}(managers[i])
	}
	wg.Wait()

	g, err := st.Get(ctx, gameID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g.Control.Unowned() {
		t.Fatal("control still unowned after concurrent requests")
	}
	winners := 0
	for _, m := range managers {
		if m.HasControl(g) {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestCooperativeHandover(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	gameID := seedGame(t, st)

	holder := NewManager(st, clock, "dev-x", "coach")
	requester := NewManager(st, clock, "dev-y", "assistant")

	if _, err := holder.RequestControl(ctx, gameID); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	g, err := requester.RequestControl(ctx, gameID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if requester.HasControl(g) {
		t.Fatal("request must not preempt the holder")
	}
	if requester.StateOf(g) != StateRequesting {
		t.Fatalf("requester state = %s", requester.StateOf(g))
	}
	if holder.StateOf(g) != StatePendingFromOther {
		t.Fatalf("holder state = %s", holder.StateOf(g))
	}

	g, err = holder.GrantControl(ctx, gameID)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !requester.HasControl(g) || holder.HasControl(g) {
		t.Fatal("grant did not move the token")
	}
	if g.Control.Request != nil {
		t.Fatal("grant must clear the request")
	}
}

func TestDenyKeepsHolder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	gameID := seedGame(t, st)

	holder := NewManager(st, clock, "dev-x", "coach")
	requester := NewManager(st, clock, "dev-y", "assistant")
	holder.RequestControl(ctx, gameID)
	requester.RequestControl(ctx, gameID)

	g, err := holder.DenyControlRequest(ctx, gameID)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if !holder.HasControl(g) {
		t.Fatal("deny must not move the token")
	}
	if g.Control.Request != nil {
		t.Fatal("deny must clear the request")
	}
}

func TestStaleRequestNotSurfacedAndNotGrantable(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	gameID := seedGame(t, st)

	holder := NewManager(st, clock, "dev-x", "coach")
	requester := NewManager(st, clock, "dev-y", "assistant")
	holder.RequestControl(ctx, gameID)
	requester.RequestControl(ctx, gameID)

	clock.Advance(DefaultRequestTTL + time.Second)

	g, _ := st.Get(ctx, gameID)
	if holder.PendingRequest(g) != nil {
		t.Fatal("stale request must not be surfaced")
	}
	// The request is not auto-resolved, only ignored.
	if g.Control.Request == nil {
		t.Fatal("stale request must not be auto-cleared")
	}

	g, err := holder.GrantControl(ctx, gameID)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !holder.HasControl(g) {
		t.Fatal("granting a stale request must be a no-op")
	}
}

func TestNonHolderGrantAndDenyAreNoOps(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := clockwork.NewFakeClock()
	gameID := seedGame(t, st)

	holder := NewManager(st, clock, "dev-x", "coach")
	bystander := NewManager(st, clock, "dev-z", "parent")
	requester := NewManager(st, clock, "dev-y", "assistant")
	holder.RequestControl(ctx, gameID)
	requester.RequestControl(ctx, gameID)

	g, err := bystander.GrantControl(ctx, gameID)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !holder.HasControl(g) || g.Control.Request == nil {
		t.Fatal("non-holder grant mutated the token")
	}
	g, err = bystander.DenyControlRequest(ctx, gameID)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if g.Control.Request == nil {
		t.Fatal("non-holder deny cleared the request")
	}
}
