package models

// SessionRole is a device's functional assignment within one game session.
// Role and control-token state are orthogonal: a viewer that is granted
// control behaves as a controller without changing its recorded role.
type SessionRole string

const (
	RoleUnset      SessionRole = "UNSET"
	RoleController SessionRole = "CONTROLLER"
	RoleViewer     SessionRole = "VIEWER"
	RoleRecorder   SessionRole = "RECORDER"
)

// Active reports whether the role is one of the three assigned roles.
func (r SessionRole) Active() bool {
	switch r {
	case RoleController, RoleViewer, RoleRecorder:
		return true
	}
	return false
}
