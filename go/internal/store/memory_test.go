package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/courtside/go/internal/models"
)

func fullGame() *models.LiveGameState {
	loc := "Home Gym"
	ref := time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)
	atRef := 547 * time.Second
	segEnd := ref.Add(90 * time.Second)
	return &models.LiveGameState{
		GameID:          uuid.New(),
		TeamName:        "Wildcats",
		Opponent:        "Hawks",
		Location:        &loc,
		PeriodLengthMin: 10,
		NumPeriods:      4,
		Format:          models.GameFormatPeriods,
		HomeScore:       21,
		AwayScore:       18,
		CurrentPeriod:   2,

		ClockValue:            600 * time.Second,
		ClockRunning:          true,
		ClockReferenceWall:    &ref,
		ClockValueAtReference: &atRef,
		LastClockUpdate:       ref,

		Control: models.ControlToken{
			Holder:  &models.ControlParty{DeviceID: "dev-a", UserID: "coach"},
			Request: &models.ControlRequest{DeviceID: "dev-b", UserID: "assistant", Since: ref},
		},

		PlayerOnBench:  false,
		CurrentSegment: &models.TimeSegment{StartTime: ref, OnCourt: true},
		Segments: []models.TimeSegment{
			{StartTime: ref.Add(-5 * time.Minute), EndTime: &segEnd, OnCourt: false},
		},
		PlayingMinutes: 4.25,
		BenchMinutes:   1.5,

		Stats: models.GameStats{
			FieldGoalsMade:      4,
			FieldGoalsAttempted: 9,
			ThreePointersMade:   1,
			ThreePointersAtt:    3,
			Rebounds:            6,
			Fouls:               2,
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for name, g := range map[string]*models.LiveGameState{
		"fully populated": fullGame(),
		"empty control and optionals": {
			GameID:          uuid.New(),
			TeamName:        "Wildcats",
			Opponent:        "Hawks",
			PeriodLengthMin: 20,
			NumPeriods:      2,
			Format:          models.GameFormatHalves,
			CurrentPeriod:   1,
			ClockValue:      20 * time.Minute,
			LastClockUpdate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	} {
		if err := s.Put(ctx, g); err != nil {
			t.Fatalf("%s: put: %v", name, err)
		}
		got, err := s.Get(ctx, g.GameID)
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if !reflect.DeepEqual(got, g) {
			t.Errorf("%s: round trip mismatch:\n got  %+v\n want %+v", name, got, g)
		}
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeDeliversUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()
	g := fullGame()

	updates, err := s.Subscribe(ctx, g.GameID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	g.HomeScore = 23
	if err := s.Put(ctx, g); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case got := <-updates:
		if got.HomeScore != 23 {
			t.Fatalf("subscriber saw home score %d, want 23", got.HomeScore)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
