package session

import (
	"errors"
	"sync"

	"github.com/mcdev12/courtside/go/internal/models"
)

// ErrRoleAssigned is returned when a device tries to switch between active
// roles without leaving the game first.
var ErrRoleAssigned = errors.New("role already assigned for this game")

// RoleTracker is the per-device session role state machine:
// unset -> {controller, viewer, recorder}, with no lateral transitions, and
// back to unset only when the game ends or the device leaves.
type RoleTracker struct {
	mu   sync.Mutex
	role models.SessionRole
}

// NewRoleTracker starts in the unset state.
func NewRoleTracker() *RoleTracker {
	return &RoleTracker{role: models.RoleUnset}
}

// Role returns the current role.
func (r *RoleTracker) Role() models.SessionRole {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.role
}

// Assign moves from unset to an active role. Re-assigning the same role is a
// no-op; switching between active roles is an error.
func (r *RoleTracker) Assign(role models.SessionRole) error {
	if !role.Active() {
		return errors.New("cannot assign an inactive role")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.role == role {
		return nil
	}
	if r.role != models.RoleUnset {
		return ErrRoleAssigned
	}
	r.role = role
	return nil
}

// AutoAssignController is the single-device path: the creating device is the
// controller, no user choice involved.
func (r *RoleTracker) AutoAssignController() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.role == models.RoleUnset {
		r.role = models.RoleController
	}
}

// Resolve forces an unset multi-device joiner into the default viewer role
// and returns the resulting role.
func (r *RoleTracker) Resolve() models.SessionRole {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.role == models.RoleUnset {
		r.role = models.RoleViewer
	}
	return r.role
}

// Clear returns to unset when the game ends or the device leaves.
func (r *RoleTracker) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.role = models.RoleUnset
}
