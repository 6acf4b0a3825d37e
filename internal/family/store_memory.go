package family

import (
	"context"
	"sync"

	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// InMemoryStore keeps networks in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	networks map[domain.UserID]*Network
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{networks: make(map[domain.UserID]*Network)}
}

func (s *InMemoryStore) Find(_ context.Context, ownerUID domain.UserID) (*Network, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	network, ok := s.networks[ownerUID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneNetwork(network), nil
}

func (s *InMemoryStore) Save(_ context.Context, network *Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networks[network.UserUID] = cloneNetwork(network)
	return nil
}

func cloneNetwork(network *Network) *Network {
	clone := *network
	clone.Members = append([]Member(nil), network.Members...)
	return &clone
}
