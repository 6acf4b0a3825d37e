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

// InMemoryRequestStore keeps connection requests in process memory. The
// mutex makes every conditional write a single atomic unit, mirroring what
// the Postgres implementation gets from its partial unique index.
type InMemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]*models.ConnectionRequest
}

func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{requests: make(map[domain.RequestID]*models.ConnectionRequest)}
}

func (s *InMemoryRequestStore) CreateIfNoPending(_ context.Context, request *models.ConnectionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.DoctorID == request.DoctorID &&
			existing.PatientID == request.PatientID &&
			existing.Status == models.RequestStatusPending {
			return sentinel.ErrConflict
		}
	}
	clone := *request
	s.requests[request.ID] = &clone
	return nil
}

func (s *InMemoryRequestStore) FindByID(_ context.Context, requestID domain.RequestID) (*models.ConnectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *request
	return &clone, nil
}

func (s *InMemoryRequestStore) UpdateStatusIfPending(_ context.Context, requestID domain.RequestID, status models.RequestStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if request.Status != models.RequestStatusPending {
		return sentinel.ErrInvalidState
	}
	request.Status = status
	request.UpdatedAt = now
	return nil
}

func (s *InMemoryRequestStore) ListByPatient(_ context.Context, patientID domain.UserID) ([]*models.ConnectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConnectionRequest
	for _, request := range s.requests {
		if request.PatientID == patientID {
			clone := *request
			out = append(out, &clone)
		}
	}
	sortRequestsNewestFirst(out)
	return out, nil
}

func (s *InMemoryRequestStore) ListByDoctor(_ context.Context, doctorID domain.UserID) ([]*models.ConnectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConnectionRequest
	for _, request := range s.requests {
		if request.DoctorID == doctorID {
			clone := *request
			out = append(out, &clone)
		}
	}
	sortRequestsNewestFirst(out)
	return out, nil
}

func sortRequestsNewestFirst(requests []*models.ConnectionRequest) {
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
}
