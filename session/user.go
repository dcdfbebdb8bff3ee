package session

import (
	"github.com/jrsteele09/go-chatadmin-client/token"
)

// RoleType represents a user role within the platform
type RoleType string

const (
	RoleSuperAdmin  RoleType = "super_admin"  // Can manage all tenant clients and platform settings
	RoleClientAdmin RoleType = "client_admin" // Can manage users and settings within one tenant client
	RoleOperator    RoleType = "operator"     // Day-to-day console user within a tenant client
	RoleViewer      RoleType = "viewer"       // Read-only access within a tenant client
)

// User is the denormalized identity held for the authenticated session,
// populated from the login response or derived from JWT claims.
type User struct {
	ID          string   `json:"id,omitempty"`          // Unique identifier for the user
	Username    string   `json:"username,omitempty"`    // Unique username
	Email       string   `json:"email,omitempty"`       // User's email address
	Name        string   `json:"name,omitempty"`        // Display name
	Role        RoleType `json:"role,omitempty"`        // Primary role
	ClientID    string   `json:"client_id,omitempty"`   // Tenant client this user belongs to
	Permissions []string `json:"permissions,omitempty"` // Fine-grained permission strings
}

// HasPermission reports whether the user carries the named permission.
func (u *User) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// DeriveUserFromToken builds a User from the identity claims embedded in
// an access token. Used as a fallback when the login or refresh response
// does not include an explicit user object.
func DeriveUserFromToken(rawToken string) (*User, error) {
	intro, err := token.Introspect(rawToken)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:          intro.Sub,
		Username:    intro.Username,
		Email:       intro.Email,
		Name:        intro.Name,
		Role:        RoleType(intro.Role),
		ClientID:    intro.ClientID,
		Permissions: intro.Permissions,
	}, nil
}
