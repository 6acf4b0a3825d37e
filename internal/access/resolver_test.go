package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/access"
	"carelink/internal/family"
	"carelink/internal/ledger/models"
	"carelink/internal/ledger/store"
	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

type fixture struct {
	relationships *store.InMemoryRelationshipStore
	networks      *family.InMemoryStore
	resolver      *access.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	relationships := store.NewInMemoryRelationshipStore()
	networks := family.NewInMemoryStore()
	return &fixture{
		relationships: relationships,
		networks:      networks,
		resolver:      access.New(relationships, networks),
	}
}

func (f *fixture) grantRelationship(t *testing.T, patientID, doctorID domain.UserID, permissions domain.Permissions) *models.Relationship {
	t.Helper()
	relationship := &models.Relationship{
		ID:          domain.NewRelationshipID(),
		PatientID:   patientID,
		DoctorID:    doctorID,
		Status:      models.RelationshipStatusActive,
		Permissions: permissions,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, _, err := f.relationships.CreateActiveIfAbsent(context.Background(), relationship)
	require.NoError(t, err)
	return relationship
}

func (f *fixture) grantFamily(t *testing.T, patientID domain.UserID, member family.Member) {
	t.Helper()
	ctx := context.Background()
	network, err := f.networks.Find(ctx, patientID)
	if err != nil {
		network = &family.Network{UserUID: patientID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	}
	network.Members = append(network.Members, member)
	require.NoError(t, f.networks.Save(ctx, network))
}

func TestResolve_Self(t *testing.T) {
	f := newFixture(t)

	decision, err := f.resolver.Resolve(context.Background(), "pat-1", "pat-1", domain.ResourceRecords)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, access.ScopeFull, decision.Scope)
	assert.Equal(t, access.SourceSelf, decision.Source)
}

func TestResolve_Relationship(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.grantRelationship(t, "pat-1", "doc-1", domain.DefaultRelationshipPermissions())

	t.Run("granted kinds are allowed", func(t *testing.T) {
		decision, err := f.resolver.Resolve(ctx, "doc-1", "pat-1", domain.ResourcePrescriptions)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, access.SourceRelationship, decision.Source)
		assert.Equal(t, access.ScopeLimited, decision.Scope)
	})

	t.Run("ungranted kinds are denied but still attributed", func(t *testing.T) {
		decision, err := f.resolver.Resolve(ctx, "doc-1", "pat-1", domain.ResourceEmergency)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, access.SourceRelationship, decision.Source)
	})

	t.Run("revocation takes effect on the next call", func(t *testing.T) {
		f := newFixture(t)
		relationship := f.grantRelationship(t, "pat-1", "doc-1", domain.DefaultRelationshipPermissions())

		decision, err := f.resolver.Resolve(ctx, "doc-1", "pat-1", domain.ResourceRecords)
		require.NoError(t, err)
		require.True(t, decision.Allowed)

		_, err = f.relationships.SetRevoked(ctx, relationship.ID, time.Now())
		require.NoError(t, err)

		decision, err = f.resolver.Resolve(ctx, "doc-1", "pat-1", domain.ResourceRecords)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, access.SourceNone, decision.Source)
	})
}

func TestResolve_Family(t *testing.T) {
	ctx := context.Background()

	t.Run("member permissions govern ordinary kinds", func(t *testing.T) {
		f := newFixture(t)
		f.grantFamily(t, "pat-1", family.Member{
			ID:          domain.NewMemberID(),
			UID:         "kin-1",
			Email:       "kin@mail.example",
			Permissions: domain.Permissions{Records: true},
		})

		decision, err := f.resolver.Resolve(ctx, "kin-1", "pat-1", domain.ResourceRecords)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, access.SourceFamily, decision.Source)

		decision, err = f.resolver.Resolve(ctx, "kin-1", "pat-1", domain.ResourcePrescriptions)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("emergency contact sees emergency data without the flag", func(t *testing.T) {
		f := newFixture(t)
		f.grantFamily(t, "pat-1", family.Member{
			ID:                 domain.NewMemberID(),
			UID:                "kin-1",
			Email:              "kin@mail.example",
			IsEmergencyContact: true,
			Permissions:        domain.Permissions{},
		})

		decision, err := f.resolver.Resolve(ctx, "kin-1", "pat-1", domain.ResourceEmergency)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "emergency contact overrides the emergency flag")

		decision, err = f.resolver.Resolve(ctx, "kin-1", "pat-1", domain.ResourceRecords)
		require.NoError(t, err)
		assert.False(t, decision.Allowed, "override applies to emergency data only")
	})

	t.Run("full member capability derives full scope", func(t *testing.T) {
		f := newFixture(t)
		f.grantFamily(t, "pat-1", family.Member{
			ID:          domain.NewMemberID(),
			UID:         "kin-1",
			Email:       "kin@mail.example",
			Permissions: domain.Permissions{Prescriptions: true, Records: true, Emergency: true},
		})

		decision, err := f.resolver.Resolve(ctx, "kin-1", "pat-1", domain.ResourceRecords)
		require.NoError(t, err)
		assert.Equal(t, access.ScopeFull, decision.Scope)
	})
}

func TestResolve_NoGrant(t *testing.T) {
	f := newFixture(t)

	decision, err := f.resolver.Resolve(context.Background(), "stranger", "pat-1", domain.ResourceRecords)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, access.SourceNone, decision.Source)
	assert.Equal(t, access.ScopeNone, decision.Scope)
}

func TestResolve_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, "", "pat-1", domain.ResourceRecords)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = f.resolver.Resolve(ctx, "doc-1", "pat-1", "diagnostics")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
