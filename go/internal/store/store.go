// Package store provides the durable session store adapter: one
// LiveGameState document per active game with get/put/delete plus a
// subscribe-for-changes stream. The store is eventually consistent and
// last-write-wins per document, so callers must read-merge-write full
// documents rather than partial deltas.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/models"
)

// ErrNotFound distinguishes a missing document from a transport failure.
var ErrNotFound = errors.New("live game not found")

// Store is the narrow interface the coordination layer needs from the
// durable backing store.
type Store interface {
	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, gameID uuid.UUID) (*models.LiveGameState, error)
	// Put replaces the full document (last-write-wins).
	Put(ctx context.Context, g *models.LiveGameState) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, gameID uuid.UUID) error
	// Subscribe streams every authoritative update for one game until ctx is
	// cancelled, at which point the returned channel is closed.
	Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan *models.LiveGameState, error)
}
