package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/courtside/go/internal/models"
)

// liveGameTTL guards against orphaned documents if a session dies without
// finishing its game. Any Put refreshes it.
const liveGameTTL = 24 * time.Hour

// RedisStore keeps each live game as a JSON document under livegame:<id> and
// publishes every replacement on livegame.updates.<id> so subscribers see
// changes without polling.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func gameKey(gameID uuid.UUID) string {
	return "livegame:" + gameID.String()
}

func updateChannel(gameID uuid.UUID) string {
	return "livegame.updates." + gameID.String()
}

// Get returns the stored document or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, gameID uuid.UUID) (*models.LiveGameState, error) {
	data, err := s.client.Get(ctx, gameKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live game: %w", err)
	}
	var g models.LiveGameState
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode live game: %w", err)
	}
	return &g, nil
}

// Put replaces the document and notifies subscribers.
func (s *RedisStore) Put(ctx context.Context, g *models.LiveGameState) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode live game: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, gameKey(g.GameID), data, liveGameTTL)
	pipe.Publish(ctx, updateChannel(g.GameID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put live game: %w", err)
	}
	return nil
}

// Delete removes the document.
func (s *RedisStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	if err := s.client.Del(ctx, gameKey(gameID)).Err(); err != nil {
		return fmt.Errorf("delete live game: %w", err)
	}
	return nil
}

// Subscribe streams authoritative updates for one game. The stream carries
// whatever the last writer put; receivers reconcile it against their own
// working copy.
func (s *RedisStore) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan *models.LiveGameState, error) {
	pubsub := s.client.Subscribe(ctx, updateChannel(gameID))
	// Force the subscription to be established before returning so callers
	// cannot miss updates published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe live game: %w", err)
	}

	out := make(chan *models.LiveGameState, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var g models.LiveGameState
				if err := json.Unmarshal([]byte(msg.Payload), &g); err != nil {
					log.Warn().Err(err).Str("game_id", gameID.String()).Msg("dropping undecodable store update")
					continue
				}
				select {
				case out <- &g:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
