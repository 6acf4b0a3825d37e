//go:build integration

package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"carelink/internal/identity"
	"carelink/internal/ledger/models"
	"carelink/internal/ledger/service"
	"carelink/internal/ledger/store"
	"carelink/internal/platform/postgres"
	"carelink/pkg/domain"
	"carelink/pkg/testutil/containers"
)

// PostgresLedgerServiceSuite exercises the full accept path against real
// Postgres: the transactional runner, the pending-pair index, and the
// active-pair index working together.
type PostgresLedgerServiceSuite struct {
	suite.Suite
	postgres      *containers.PostgresContainer
	relationships *store.PostgresRelationshipStore
	service       *service.Service
}

func TestPostgresLedgerServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerServiceSuite))
}

func (s *PostgresLedgerServiceSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	requests := store.NewPostgresRequestStore(s.postgres.DB)
	s.relationships = store.NewPostgresRelationshipStore(s.postgres.DB)

	directory := identity.NewStaticDirectory()
	directory.Add(identity.Profile{UserID: "doc-1", Name: "Dr. Asha Rao", Email: "asha@clinic.example", Role: identity.RoleDoctor})
	directory.Add(identity.Profile{UserID: "pat-1", Name: "Ravi Kumar", Email: "ravi@mail.example", Role: identity.RolePatient})

	s.service = service.New(requests, s.relationships, directory, nil,
		service.WithAtomicRunner(postgres.NewTxRunner(s.postgres.DB, 5*time.Second)))
}

func (s *PostgresLedgerServiceSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "connection_requests", "relationships")
	s.Require().NoError(err)
}

func (s *PostgresLedgerServiceSuite) TestConcurrentAcceptsCreateOneRelationship() {
	ctx := context.Background()

	request, err := s.service.CreateRequest(ctx, "doc-1", "doc-1", "pat-1", models.MethodDirect, "")
	s.Require().NoError(err)

	const accepts = 10
	var wg sync.WaitGroup
	results := make([]*models.Relationship, accepts)
	for i := 0; i < accepts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if relationship, err := s.service.AcceptRequest(ctx, request.ID, "pat-1"); err == nil {
				results[idx] = relationship
			}
		}(i)
	}
	wg.Wait()

	listed, err := s.relationships.ListByPatient(ctx, "pat-1")
	s.Require().NoError(err)
	s.Require().Len(listed, 1, "exactly one relationship survives the race")
	survivor := listed[0]
	s.Equal(models.RelationshipStatusActive, survivor.Status)
	s.Equal(domain.DefaultRelationshipPermissions(), survivor.Permissions)

	succeeded := 0
	for _, result := range results {
		if result == nil {
			continue
		}
		succeeded++
		s.Equal(survivor.ID, result.ID)
	}
	s.GreaterOrEqual(succeeded, 1)
}

func (s *PostgresLedgerServiceSuite) TestFailedAcceptRollsBackBothWrites() {
	ctx := context.Background()

	request, err := s.service.CreateRequest(ctx, "doc-1", "doc-1", "pat-1", models.MethodDirect, "")
	s.Require().NoError(err)
	s.Require().NoError(s.service.RejectRequest(ctx, request.ID, "pat-1"))

	// Accept after reject must leave no relationship behind.
	_, err = s.service.AcceptRequest(ctx, request.ID, "pat-1")
	s.Error(err)

	listed, err := s.relationships.ListByPatient(ctx, "pat-1")
	s.Require().NoError(err)
	s.Empty(listed)
}
