package family

import (
	"context"

	"carelink/pkg/domain"
)

// Store persists family networks as whole documents. Mutations replace the
// member list in a single document update, which is what makes the
// dedupe pass atomic per network.
type Store interface {
	// Find returns the owner's network or sentinel.ErrNotFound.
	Find(ctx context.Context, ownerUID domain.UserID) (*Network, error)

	// Save upserts the whole network document.
	Save(ctx context.Context, network *Network) error
}
