package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/ledger/models"
	"carelink/internal/ledger/store"
	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

func pendingRequest(doctorID, patientID domain.UserID, createdAt time.Time) *models.ConnectionRequest {
	return &models.ConnectionRequest{
		ID:          domain.NewRequestID(),
		DoctorID:    doctorID,
		PatientID:   patientID,
		Method:      models.MethodDirect,
		InitiatedBy: doctorID,
		Status:      models.RequestStatusPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func activeRelationship(patientID, doctorID domain.UserID, createdAt time.Time) *models.Relationship {
	return &models.Relationship{
		ID:          domain.NewRelationshipID(),
		PatientID:   patientID,
		DoctorID:    doctorID,
		Status:      models.RelationshipStatusActive,
		Permissions: domain.DefaultRelationshipPermissions(),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestInMemoryRequestStore_PendingPairGuard(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryRequestStore()
	now := time.Now()

	first := pendingRequest("doc-1", "pat-1", now)
	require.NoError(t, s.CreateIfNoPending(ctx, first))

	t.Run("same pair conflicts while pending", func(t *testing.T) {
		err := s.CreateIfNoPending(ctx, pendingRequest("doc-1", "pat-1", now))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("other pairs are unaffected", func(t *testing.T) {
		assert.NoError(t, s.CreateIfNoPending(ctx, pendingRequest("doc-1", "pat-2", now)))
		assert.NoError(t, s.CreateIfNoPending(ctx, pendingRequest("doc-2", "pat-1", now)))
	})

	t.Run("pair frees up once the request is terminal", func(t *testing.T) {
		require.NoError(t, s.UpdateStatusIfPending(ctx, first.ID, models.RequestStatusRejected, now))
		assert.NoError(t, s.CreateIfNoPending(ctx, pendingRequest("doc-1", "pat-1", now)))
	})
}

func TestInMemoryRequestStore_Transitions(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryRequestStore()
	now := time.Now()

	request := pendingRequest("doc-1", "pat-1", now)
	require.NoError(t, s.CreateIfNoPending(ctx, request))

	err := s.UpdateStatusIfPending(ctx, domain.NewRequestID(), models.RequestStatusAccepted, now)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.UpdateStatusIfPending(ctx, request.ID, models.RequestStatusAccepted, now))
	err = s.UpdateStatusIfPending(ctx, request.ID, models.RequestStatusExpired, now)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	stored, err := s.FindByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusAccepted, stored.Status)
}

func TestInMemoryRequestStore_ListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryRequestStore()
	base := time.Now()

	older := pendingRequest("doc-1", "pat-1", base.Add(-time.Hour))
	newer := pendingRequest("doc-2", "pat-1", base)
	require.NoError(t, s.CreateIfNoPending(ctx, older))
	require.NoError(t, s.CreateIfNoPending(ctx, newer))

	listed, err := s.ListByPatient(ctx, "pat-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, newer.ID, listed[0].ID)
	assert.Equal(t, older.ID, listed[1].ID)
}

func TestInMemoryRelationshipStore_ActivePairGuard(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryRelationshipStore()
	now := time.Now()

	first := activeRelationship("pat-1", "doc-1", now)
	created, ok, err := s.CreateActiveIfAbsent(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.ID, created.ID)

	t.Run("second active insert loses and gets the winner", func(t *testing.T) {
		loser := activeRelationship("pat-1", "doc-1", now)
		existing, ok, err := s.CreateActiveIfAbsent(ctx, loser)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, first.ID, existing.ID)
	})

	t.Run("revoked pair admits a fresh active record", func(t *testing.T) {
		transitioned, err := s.SetRevoked(ctx, first.ID, now)
		require.NoError(t, err)
		require.True(t, transitioned)

		replacement := activeRelationship("pat-1", "doc-1", now.Add(time.Minute))
		_, ok, err := s.CreateActiveIfAbsent(ctx, replacement)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("revoking again reports no transition", func(t *testing.T) {
		transitioned, err := s.SetRevoked(ctx, first.ID, now)
		require.NoError(t, err)
		assert.False(t, transitioned)
	})
}

func TestInMemoryRelationshipStore_DeleteBatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryRelationshipStore()
	now := time.Now()

	a := activeRelationship("pat-1", "doc-1", now)
	b := activeRelationship("pat-1", "doc-2", now)
	for _, relationship := range []*models.Relationship{a, b} {
		_, _, err := s.CreateActiveIfAbsent(ctx, relationship)
		require.NoError(t, err)
	}

	t.Run("a missing id aborts the whole batch", func(t *testing.T) {
		err := s.DeleteBatch(ctx, []domain.RelationshipID{a.ID, domain.NewRelationshipID()})
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		remaining, err := s.ListByPatient(ctx, "pat-1")
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("a complete batch deletes every record", func(t *testing.T) {
		require.NoError(t, s.DeleteBatch(ctx, []domain.RelationshipID{a.ID, b.ID}))
		remaining, err := s.ListByPatient(ctx, "pat-1")
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}

func TestInMemoryRelationshipStore_ListPatientIDs(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryRelationshipStore()
	now := time.Now()

	for _, pair := range []struct{ patient, doctor domain.UserID }{
		{"pat-1", "doc-1"},
		{"pat-1", "doc-2"},
		{"pat-2", "doc-1"},
	} {
		_, _, err := s.CreateActiveIfAbsent(ctx, activeRelationship(pair.patient, pair.doctor, now))
		require.NoError(t, err)
	}

	patientIDs, err := s.ListPatientIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"pat-1", "pat-2"}, patientIDs)
}
