package models

import "time"

// ControlParty identifies a device/user pair attached to the control token.
type ControlParty struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
}

// ControlRequest is a pending cooperative hand-over request. Staleness is
// evaluated at read time; requests are never auto-resolved.
type ControlRequest struct {
	DeviceID string    `json:"device_id"`
	UserID   string    `json:"user_id"`
	Since    time.Time `json:"since"`
}

// StaleAt reports whether the request is older than ttl at instant now.
func (r ControlRequest) StaleAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.Since) > ttl
}

// ControlToken is the mutual-exclusion right to mutate shared game state.
// Holder == nil means the token is unowned and any device may acquire it
// unilaterally. A non-nil Request only makes sense while the token is held
// by somebody else.
type ControlToken struct {
	Holder  *ControlParty   `json:"holder,omitempty"`
	Request *ControlRequest `json:"request,omitempty"`
}

// Unowned reports whether no device currently holds control.
func (t ControlToken) Unowned() bool {
	return t.Holder == nil
}

// HeldBy reports whether the exact device/user pair holds control. Local
// hasControl flags must always be derived through this, never stored.
func (t ControlToken) HeldBy(deviceID, userID string) bool {
	return t.Holder != nil && t.Holder.DeviceID == deviceID && t.Holder.UserID == userID
}

// HeldByOther reports whether some other device holds control.
func (t ControlToken) HeldByOther(deviceID string) bool {
	return t.Holder != nil && t.Holder.DeviceID != deviceID
}

func (t ControlToken) clone() ControlToken {
	cp := ControlToken{}
	if t.Holder != nil {
		h := *t.Holder
		cp.Holder = &h
	}
	if t.Request != nil {
		r := *t.Request
		cp.Request = &r
	}
	return cp
}
