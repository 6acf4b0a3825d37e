package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"carelink/internal/ledger/models"
	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// InMemoryRelationshipStore keeps relationships in process memory.
// CreateActiveIfAbsent holds the write lock across the existence check and
// the insert, which is the whole uniqueness argument for this
// implementation.
type InMemoryRelationshipStore struct {
	mu            sync.RWMutex
	relationships map[domain.RelationshipID]*models.Relationship
}

func NewInMemoryRelationshipStore() *InMemoryRelationshipStore {
	return &InMemoryRelationshipStore{relationships: make(map[domain.RelationshipID]*models.Relationship)}
}

func (s *InMemoryRelationshipStore) CreateActiveIfAbsent(_ context.Context, relationship *models.Relationship) (*models.Relationship, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.relationships {
		if existing.PatientID == relationship.PatientID &&
			existing.DoctorID == relationship.DoctorID &&
			existing.Status == models.RelationshipStatusActive {
			clone := *existing
			return &clone, false, nil
		}
	}
	stored := *relationship
	s.relationships[relationship.ID] = &stored
	clone := stored
	return &clone, true, nil
}

func (s *InMemoryRelationshipStore) FindByID(_ context.Context, relationshipID domain.RelationshipID) (*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	relationship, ok := s.relationships[relationshipID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *relationship
	return &clone, nil
}

func (s *InMemoryRelationshipStore) FindActiveByPair(_ context.Context, patientID, doctorID domain.UserID) (*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, relationship := range s.relationships {
		if relationship.PatientID == patientID &&
			relationship.DoctorID == doctorID &&
			relationship.Status == models.RelationshipStatusActive {
			clone := *relationship
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryRelationshipStore) ListByPatient(_ context.Context, patientID domain.UserID) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Relationship
	for _, relationship := range s.relationships {
		if relationship.PatientID == patientID {
			clone := *relationship
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryRelationshipStore) ListPatientIDs(_ context.Context) ([]domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[domain.UserID]struct{})
	var out []domain.UserID
	for _, relationship := range s.relationships {
		if _, ok := seen[relationship.PatientID]; !ok {
			seen[relationship.PatientID] = struct{}{}
			out = append(out, relationship.PatientID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *InMemoryRelationshipStore) UpdatePermissions(_ context.Context, relationshipID domain.RelationshipID, permissions domain.Permissions, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	relationship, ok := s.relationships[relationshipID]
	if !ok {
		return sentinel.ErrNotFound
	}
	relationship.Permissions = permissions
	relationship.UpdatedAt = now
	return nil
}

func (s *InMemoryRelationshipStore) SetRevoked(_ context.Context, relationshipID domain.RelationshipID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	relationship, ok := s.relationships[relationshipID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if relationship.Status == models.RelationshipStatusRevoked {
		return false, nil
	}
	relationship.Status = models.RelationshipStatusRevoked
	relationship.UpdatedAt = now
	return true, nil
}

func (s *InMemoryRelationshipStore) DeleteBatch(_ context.Context, relationshipIDs []domain.RelationshipID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// All-or-nothing: verify every ID first so a bad batch removes nothing.
	for _, relationshipID := range relationshipIDs {
		if _, ok := s.relationships[relationshipID]; !ok {
			return sentinel.ErrNotFound
		}
	}
	for _, relationshipID := range relationshipIDs {
		delete(s.relationships, relationshipID)
	}
	return nil
}
