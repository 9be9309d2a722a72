package auth

import (
	"fmt"

	"teamledger/internal/domain"
)

// ForbiddenError indicates the caller's role does not cover the action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Identity is the resolved caller attached to every engine call.
type Identity struct {
	UserID int64
	Role   string
	Status string
}

func (id Identity) IsAdmin() bool {
	return id.Role == domain.RoleAdmin
}

func (id Identity) IsActive() bool {
	return id.Status == domain.UserActive
}

// RequireAdmin gates admin-only operations.
func RequireAdmin(id Identity, action string) error {
	if !id.IsAdmin() {
		return ForbiddenError{Action: action}
	}
	return nil
}

// RequireSelfOrAdmin allows a member to act on its own records while admins
// may act on anyone's.
func RequireSelfOrAdmin(id Identity, subjectID int64, action string) error {
	if id.IsAdmin() || id.UserID == subjectID {
		return nil
	}
	return ForbiddenError{Action: action}
}

// RequireActive rejects suspended identities before any mutation.
func RequireActive(id Identity, action string) error {
	if !id.IsActive() {
		return ForbiddenError{Action: action}
	}
	return nil
}
