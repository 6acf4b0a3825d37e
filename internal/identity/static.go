package identity

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

// StaticDirectory is an in-memory profile directory. It backs tests and
// single-process deployments where profiles are seeded at startup.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[id.UserID]Profile
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{profiles: make(map[id.UserID]Profile)}
}

// Add registers or replaces a profile.
func (d *StaticDirectory) Add(profile Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.UserID] = profile
}

func (d *StaticDirectory) Lookup(_ context.Context, userID id.UserID) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	profile, ok := d.profiles[userID]
	if !ok {
		return Profile{}, dErrors.New(dErrors.CodeValidation, "identity cannot be resolved: "+userID.String())
	}
	return profile, nil
}

// StaticVerifier maps opaque tokens to identities. Test double for the
// identity provider.
type StaticVerifier struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{identities: make(map[string]Identity)}
}

// Grant registers a token for an identity.
func (v *StaticVerifier) Grant(token string, ident Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.identities[token] = ident
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ident, ok := v.identities[token]
	if !ok {
		return Identity{}, dErrors.New(dErrors.CodeForbidden, "token invalid")
	}
	return ident, nil
}
