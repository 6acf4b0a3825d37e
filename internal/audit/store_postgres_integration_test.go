//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"carelink/internal/audit"
	"carelink/pkg/testutil/containers"
)

type PostgresAuditSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
}

func TestPostgresAuditSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditSuite))
}

func (s *PostgresAuditSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = audit.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresAuditSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_events")
	s.Require().NoError(err)
}

func (s *PostgresAuditSuite) TestAppendAndListBySubject() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	grant := audit.NewEvent(audit.ActionAccessGrant, "doc-1", "pat-1", "relationship rel-1")
	grant.Timestamp = base
	revoke := audit.NewEvent(audit.ActionAccessRevoke, "pat-1", "pat-1", "relationship rel-1")
	revoke.Timestamp = base.Add(time.Minute)
	other := audit.NewEvent(audit.ActionMemberAdded, "pat-2", "pat-2", "")
	other.Timestamp = base

	for _, event := range []audit.Event{grant, revoke, other} {
		s.Require().NoError(s.store.Append(ctx, event))
	}

	events, err := s.store.ListBySubject(ctx, "pat-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(revoke.ID, events[0].ID, "newest first")
	s.Equal(audit.ActionAccessGrant, events[1].Action)
	s.Equal(base, events[1].Timestamp)
}
