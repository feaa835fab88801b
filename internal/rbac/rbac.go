package rbac

import "corkboard/api/internal/board"

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

const (
	ActionRead     Action = "read"
	ActionReact    Action = "react"
	ActionWrite    Action = "write"
	ActionModerate Action = "moderate"
	ActionSettings Action = "settings"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionReact || action == ActionWrite
	case RoleViewer:
		return action == ActionRead || action == ActionReact
	default:
		return false
	}
}

// ForBoard resolves the role of uid on b. Guests, including signed-in
// non-owners, get the board's guest permission; private boards admit only
// the owner.
func ForBoard(b board.Board, uid string) Role {
	if uid != "" && uid == b.OwnerID {
		return RoleOwner
	}
	if b.Privacy == board.PrivacyPrivate {
		return RoleNone
	}
	return Normalize(b.GuestPermission)
}

// Normalize maps a guest permission to a role, defaulting to editor like
// new boards do.
func Normalize(perm board.GuestPermission) Role {
	switch perm {
	case board.GuestView:
		return RoleViewer
	default:
		return RoleEditor
	}
}
