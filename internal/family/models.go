// Package family owns per-patient family networks: the set of trusted
// family members and their capability grants.
package family

import (
	"time"

	"carelink/pkg/domain"
	pkgemail "carelink/pkg/email"
)

// AccessLevel is the derived summary of a member's capability set. It is an
// invariant, not an independently settable field: full iff all three
// permission flags are true.
type AccessLevel string

const (
	AccessLevelFull    AccessLevel = "full"
	AccessLevelLimited AccessLevel = "limited"
)

// DeriveAccessLevel computes the level from a capability set.
func DeriveAccessLevel(permissions domain.Permissions) AccessLevel {
	if permissions.All() {
		return AccessLevelFull
	}
	return AccessLevelLimited
}

// Member is one trusted family member inside a network.
//
// UID may differ from ID: unregistered invitees get a member ID before they
// have an account.
type Member struct {
	ID                 domain.MemberID    `json:"id"`
	UID                domain.UserID      `json:"uid,omitempty"`
	Name               string             `json:"name"`
	Email              string             `json:"email"`
	Relationship       string             `json:"relationship"`
	AccessLevel        AccessLevel        `json:"access_level"`
	IsEmergencyContact bool               `json:"is_emergency_contact"`
	ConnectedAt        time.Time          `json:"connected_at"`
	LastAccess         time.Time          `json:"last_access,omitempty"`
	Permissions        domain.Permissions `json:"permissions"`
}

// NormalizedEmail is the member's uniqueness key within a network.
func (m Member) NormalizedEmail() string {
	return pkgemail.Normalize(m.Email)
}

// Network is one patient's family network. The owner's UID is also the
// document key.
//
// Invariant: no two members share a normalized email.
type Network struct {
	UserUID   domain.UserID `json:"user_uid"`
	UserEmail string        `json:"user_email"`
	Members   []Member      `json:"members"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MemberByID returns the member with the given ID, or nil.
func (n *Network) MemberByID(memberID domain.MemberID) *Member {
	for i := range n.Members {
		if n.Members[i].ID == memberID {
			return &n.Members[i]
		}
	}
	return nil
}

// MemberByEmail returns the member with the given normalized email, or nil.
func (n *Network) MemberByEmail(address string) *Member {
	normalized := pkgemail.Normalize(address)
	for i := range n.Members {
		if n.Members[i].NormalizedEmail() == normalized {
			return &n.Members[i]
		}
	}
	return nil
}

// MemberByUID returns the member with the given account UID, or nil.
func (n *Network) MemberByUID(uid domain.UserID) *Member {
	if uid == "" {
		return nil
	}
	for i := range n.Members {
		if n.Members[i].UID == uid {
			return &n.Members[i]
		}
	}
	return nil
}
