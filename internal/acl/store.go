package acl

import "errors"

// Common errors.
var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrAccessDenied       = errors.New("access denied")
)

// Store persists document permissions.
type Store interface {
	// Grant gives a user a role on a document, replacing any
	// existing permission.
	Grant(docID, userID string, role Role) error

	// Revoke removes a user's permission on a document.
	// Returns ErrPermissionNotFound if no permission exists.
	Revoke(docID, userID string) error

	// GetRole returns the user's role for a document.
	// Returns ErrPermissionNotFound if no permission exists.
	GetRole(docID, userID string) (Role, error)

	// ListPermissions returns all permissions for a document,
	// sorted by user ID.
	ListPermissions(docID string) ([]Permission, error)

	// ListDocuments returns the IDs of all documents the user has
	// any permission on, sorted.
	ListDocuments(userID string) ([]string, error)
}
