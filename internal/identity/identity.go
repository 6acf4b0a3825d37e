// Package identity is the trust core's window onto the authentication
// provider. The core trusts the verified identity and role claim but never
// mutates them.
package identity

import (
	"context"

	id "carelink/pkg/domain"
)

// Role is the platform role claimed by the identity provider.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether the role is one the core understands.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Identity is a verified caller.
type Identity struct {
	UserID        id.UserID
	Role          Role
	EmailVerified bool
}

// Verifier turns a bearer token into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Profile is the display data snapshotted into requests and relationships.
// Snapshots are captured at creation time and never refreshed; staleness is
// a documented property of the records, not a bug.
type Profile struct {
	UserID         id.UserID
	Name           string
	Email          string
	Specialization string
	Role           Role
}

// Directory resolves display profiles for snapshot capture. Lookups that
// fail mean the party cannot be connected.
type Directory interface {
	Lookup(ctx context.Context, userID id.UserID) (Profile, error)
}
