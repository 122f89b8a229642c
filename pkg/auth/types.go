package auth

import "github.com/dativebase/old/pkg/model"

// AuthContext holds the authenticated user and the restricted-visibility
// decision computed at authentication time.
type AuthContext struct {
	User *model.UserRef

	// Unrestricted is true when the user may see restricted resources:
	// administrators always, other users when the application settings
	// list them as unrestricted.
	Unrestricted bool
}

// IsAdministrator reports whether the authenticated user is an administrator.
func (ac *AuthContext) IsAdministrator() bool {
	return ac != nil && ac.User.IsAdministrator()
}

// CanWrite reports whether the authenticated user may mutate resources.
// Viewers are read-only.
func (ac *AuthContext) CanWrite() bool {
	if ac == nil || ac.User == nil {
		return false
	}
	switch ac.User.Role {
	case model.RoleAdministrator, model.RoleContributor:
		return true
	default:
		return false
	}
}
