package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/mcdev12/courtside/go/internal/models"
)

// MemoryStore is an in-process Store used by tests and single-device
// sessions without a Redis deployment. Documents are held serialized so
// every Get/Put round-trips through JSON exactly like the Redis path.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[uuid.UUID][]byte
	subs map[uuid.UUID][]chan *models.LiveGameState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[uuid.UUID][]byte),
		subs: make(map[uuid.UUID][]chan *models.LiveGameState),
	}
}

// Get returns the stored document or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, gameID uuid.UUID) (*models.LiveGameState, error) {
	s.mu.RLock()
	data, ok := s.docs[gameID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var g models.LiveGameState
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Put replaces the document and fans the update out to subscribers. Slow
// subscribers are skipped rather than blocking the writer, matching the
// best-effort delivery of the real pub/sub channel.
func (s *MemoryStore) Put(ctx context.Context, g *models.LiveGameState) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[g.GameID] = data
	subs := make([]chan *models.LiveGameState, len(s.subs[g.GameID]))
	copy(subs, s.subs[g.GameID])
	s.mu.Unlock()

	for _, sub := range subs {
		var cp models.LiveGameState
		if err := json.Unmarshal(data, &cp); err != nil {
			return err
		}
		select {
		case sub <- &cp:
		default:
		}
	}
	return nil
}

// Delete removes the document.
func (s *MemoryStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	s.mu.Lock()
	delete(s.docs, gameID)
	s.mu.Unlock()
	return nil
}

// Subscribe streams updates for one game until ctx is cancelled.
func (s *MemoryStore) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan *models.LiveGameState, error) {
	ch := make(chan *models.LiveGameState, 16)
	s.mu.Lock()
	s.subs[gameID] = append(s.subs[gameID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subs := s.subs[gameID]
		for i, sub := range subs {
			if sub == ch {
				s.subs[gameID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
