package acl

import "fmt"

// Role is a user's access level on a document. Higher roles include
// every capability of the roles below them.
type Role int

const (
	// Viewer reads document content and presence.
	Viewer Role = iota
	// Editor additionally submits operations.
	Editor
	// Owner additionally shares and deletes the document.
	Owner
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case Viewer:
		return "viewer"
	case Editor:
		return "editor"
	case Owner:
		return "owner"
	default:
		return "unknown"
	}
}

// ParseRole converts a wire-level role name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "viewer":
		return Viewer, nil
	case "editor":
		return Editor, nil
	case "owner":
		return Owner, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Allows reports whether the role permits the given action.
func (r Role) Allows(action Action) bool {
	switch action {
	case ActionRead:
		return r >= Viewer
	case ActionWrite:
		return r >= Editor
	case ActionShare, ActionDelete:
		return r >= Owner
	default:
		return false
	}
}

// Permission binds a user to a role on one document.
type Permission struct {
	DocID  string `json:"docId"`
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}
