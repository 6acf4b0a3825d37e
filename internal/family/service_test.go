package family_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"carelink/internal/family"
	"carelink/internal/identity"
	"carelink/internal/notify"
	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/requestcontext"
)

const ownerUID = domain.UserID("patient-1")

type fanoutRecorder struct {
	mu     sync.Mutex
	inputs []notify.Input
}

func (f *fanoutRecorder) Notify(_ context.Context, input notify.Input) (*notify.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	return &notify.Notification{ID: domain.NewNotificationID()}, nil
}

func (f *fanoutRecorder) count(kind notify.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, input := range f.inputs {
		if input.Type == kind {
			n++
		}
	}
	return n
}

type FamilyServiceSuite struct {
	suite.Suite
	store   *family.InMemoryStore
	fanout  *fanoutRecorder
	service *family.Service
	ctx     context.Context
	now     time.Time
}

func TestFamilyServiceSuite(t *testing.T) {
	suite.Run(t, new(FamilyServiceSuite))
}

func (s *FamilyServiceSuite) SetupTest() {
	s.store = family.NewInMemoryStore()
	s.fanout = &fanoutRecorder{}

	directory := identity.NewStaticDirectory()
	directory.Add(identity.Profile{
		UserID: ownerUID,
		Name:   "Ravi Kumar",
		Email:  "ravi.kumar@mail.example",
		Role:   identity.RolePatient,
	})

	s.service = family.New(s.store, directory, s.fanout)
	s.now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *FamilyServiceSuite) addMember(input family.MemberInput) *family.Member {
	member, err := s.service.AddMember(s.ctx, ownerUID, input)
	s.Require().NoError(err)
	return member
}

func (s *FamilyServiceSuite) TestAddMember() {
	s.Run("first add creates the network and records owner email", func() {
		member := s.addMember(family.MemberInput{
			Name:         "Meera Kumar",
			Email:        "meera@mail.example",
			Relationship: "spouse",
			Permissions:  domain.Permissions{Records: true},
		})

		s.Equal(family.AccessLevelLimited, member.AccessLevel)
		s.Equal(s.now, member.ConnectedAt)

		network, err := s.service.Get(s.ctx, ownerUID)
		s.Require().NoError(err)
		s.Equal("ravi.kumar@mail.example", network.UserEmail)
		s.Len(network.Members, 1)
	})

	s.Run("full capability set derives full access", func() {
		s.SetupTest()
		member := s.addMember(family.MemberInput{
			Name:        "Meera Kumar",
			Email:       "meera@mail.example",
			Permissions: domain.Permissions{Prescriptions: true, Records: true, Emergency: true},
		})
		s.Equal(family.AccessLevelFull, member.AccessLevel)
	})

	s.Run("duplicate email conflicts regardless of case", func() {
		s.SetupTest()
		s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example"})

		_, err := s.service.AddMember(s.ctx, ownerUID, family.MemberInput{
			Name:  "Meera Again",
			Email: "  MEERA@Mail.example ",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("blank name falls back to a name derived from the email", func() {
		s.SetupTest()
		member := s.addMember(family.MemberInput{Email: "arun.nair@mail.example"})
		s.Equal("Arun Nair", member.Name)
	})

	s.Run("missing email is a validation error", func() {
		s.SetupTest()
		_, err := s.service.AddMember(s.ctx, ownerUID, family.MemberInput{Name: "No Email"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("adding an emergency contact notifies the owner", func() {
		s.SetupTest()
		s.addMember(family.MemberInput{
			Name:               "Meera",
			Email:              "meera@mail.example",
			IsEmergencyContact: true,
		})
		s.Equal(1, s.fanout.count(notify.TypeFamilyEmergencyContact))
	})
}

func (s *FamilyServiceSuite) TestRemoveMember() {
	s.Run("removes an existing member", func() {
		member := s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example"})

		s.Require().NoError(s.service.RemoveMember(s.ctx, ownerUID, member.ID))

		network, err := s.service.Get(s.ctx, ownerUID)
		s.Require().NoError(err)
		s.Empty(network.Members)
	})

	s.Run("missing member is not found", func() {
		s.SetupTest()
		s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example"})
		err := s.service.RemoveMember(s.ctx, ownerUID, domain.NewMemberID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("removed member's email frees up", func() {
		s.SetupTest()
		member := s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example"})
		s.Require().NoError(s.service.RemoveMember(s.ctx, ownerUID, member.ID))

		_, err := s.service.AddMember(s.ctx, ownerUID, family.MemberInput{Name: "Meera", Email: "meera@mail.example"})
		s.NoError(err)
	})
}

func (s *FamilyServiceSuite) TestUpdateMemberPermissions() {
	enable := true

	s.Run("patch recomputes the derived access level", func() {
		member := s.addMember(family.MemberInput{
			Name:        "Meera",
			Email:       "meera@mail.example",
			Permissions: domain.Permissions{Prescriptions: true, Records: true},
		})
		s.Equal(family.AccessLevelLimited, member.AccessLevel)

		updated, err := s.service.UpdateMemberPermissions(s.ctx, ownerUID, member.ID,
			domain.PermissionsPatch{Emergency: &enable})
		s.Require().NoError(err)
		s.True(updated.Permissions.Emergency)
		s.Equal(family.AccessLevelFull, updated.AccessLevel)
	})

	s.Run("empty patch is rejected", func() {
		s.SetupTest()
		member := s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example"})
		_, err := s.service.UpdateMemberPermissions(s.ctx, ownerUID, member.ID, domain.PermissionsPatch{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing member is not found", func() {
		s.SetupTest()
		s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example"})
		_, err := s.service.UpdateMemberPermissions(s.ctx, ownerUID, domain.NewMemberID(),
			domain.PermissionsPatch{Emergency: &enable})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *FamilyServiceSuite) TestSetEmergencyContact() {
	s.Run("promoting a member notifies the owner once", func() {
		member := s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example"})

		updated, err := s.service.SetEmergencyContact(s.ctx, ownerUID, member.ID, true)
		s.Require().NoError(err)
		s.True(updated.IsEmergencyContact)
		s.Equal(1, s.fanout.count(notify.TypeFamilyEmergencyContact))

		// Setting the flag again does not re-notify.
		_, err = s.service.SetEmergencyContact(s.ctx, ownerUID, member.ID, true)
		s.Require().NoError(err)
		s.Equal(1, s.fanout.count(notify.TypeFamilyEmergencyContact))
	})

	s.Run("demotion is silent", func() {
		s.SetupTest()
		member := s.addMember(family.MemberInput{Name: "Meera", Email: "meera@mail.example", IsEmergencyContact: true})
		before := s.fanout.count(notify.TypeFamilyEmergencyContact)

		updated, err := s.service.SetEmergencyContact(s.ctx, ownerUID, member.ID, false)
		s.Require().NoError(err)
		s.False(updated.IsEmergencyContact)
		s.Equal(before, s.fanout.count(notify.TypeFamilyEmergencyContact))
	})
}

func (s *FamilyServiceSuite) TestTouchMemberAccess() {
	member := s.addMember(family.MemberInput{
		Name:  "Meera",
		Email: "meera@mail.example",
		UID:   "meera-uid",
	})
	s.Require().True(member.LastAccess.IsZero())

	s.service.TouchMemberAccess(s.ctx, ownerUID, "meera-uid")

	network, err := s.service.Get(s.ctx, ownerUID)
	s.Require().NoError(err)
	touched := network.MemberByUID("meera-uid")
	s.Require().NotNil(touched)
	s.Equal(s.now, touched.LastAccess)
}

func (s *FamilyServiceSuite) TestGetMissingNetwork() {
	_, err := s.service.Get(s.ctx, "nobody")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
