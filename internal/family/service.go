package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"carelink/internal/audit"
	"carelink/internal/identity"
	"carelink/internal/notify"
	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	pkgemail "carelink/pkg/email"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

var (
	membersAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_family_members_added_total",
		Help: "Family members added across all networks",
	})

	membersRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_family_members_removed_total",
		Help: "Family members removed across all networks",
	})
)

// Fanout mirrors the ledger's notification dependency.
type Fanout interface {
	Notify(ctx context.Context, input notify.Input) (*notify.Notification, error)
}

// AuditPublisher records member transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Deduper collapses duplicate members inside one network. Implemented by the
// reconciliation engine.
type Deduper interface {
	DedupeMembers(ctx context.Context, ownerUID domain.UserID) (int, error)
}

// MemberInput describes a member to add.
type MemberInput struct {
	UID                domain.UserID
	Name               string
	Email              string
	Relationship       string
	IsEmergencyContact bool
	Permissions        domain.Permissions
}

// Service implements the family network registry. Only the owning patient
// mutates their network.
type Service struct {
	store     Store
	directory identity.Directory
	fanout    Fanout
	auditor   AuditPublisher
	deduper   Deduper
	logger    *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithDeduper(deduper Deduper) Option {
	return func(s *Service) {
		s.deduper = deduper
	}
}

// New constructs a Service.
func New(store Store, directory identity.Directory, fanout Fanout, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		fanout:    fanout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMember appends a member to the owner's network. Fails Conflict when a
// member with the same normalized email already exists. The network is
// created on first use.
func (s *Service) AddMember(ctx context.Context, ownerUID domain.UserID, input MemberInput) (*Member, error) {
	address := pkgemail.Normalize(input.Email)
	if address == "" || !strings.Contains(address, "@") {
		return nil, dErrors.New(dErrors.CodeValidation, "member email is required")
	}

	now := requestcontext.Now(ctx)
	network, err := s.loadOrCreate(ctx, ownerUID, now)
	if err != nil {
		return nil, err
	}

	if network.MemberByEmail(address) != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "a member with this email already exists")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		first, last := pkgemail.DeriveNameFromEmail(address)
		name = first + " " + last
	}

	member := Member{
		ID:                 domain.NewMemberID(),
		UID:                input.UID,
		Name:               name,
		Email:              input.Email,
		Relationship:       input.Relationship,
		AccessLevel:        DeriveAccessLevel(input.Permissions),
		IsEmergencyContact: input.IsEmergencyContact,
		ConnectedAt:        now,
		Permissions:        input.Permissions,
	}
	network.Members = append(network.Members, member)
	network.UpdatedAt = now

	if err := s.store.Save(ctx, network); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "save family network")
	}

	membersAdded.Inc()
	s.emitAudit(ctx, audit.ActionMemberAdded, ownerUID, ownerUID, "member "+member.ID.String())

	if member.IsEmergencyContact {
		s.notifyQuietly(ctx, notify.Input{
			RecipientID: ownerUID,
			Type:        notify.TypeFamilyEmergencyContact,
			Title:       "Emergency contact added",
			Message:     fmt.Sprintf("%s is now an emergency contact for your records", member.Name),
			Priority:    notify.PriorityHigh,
			Data: map[string]string{
				"member_id": member.ID.String(),
			},
		})
	}

	return &member, nil
}

// RemoveMember deletes a member from the owner's network.
func (s *Service) RemoveMember(ctx context.Context, ownerUID domain.UserID, memberID domain.MemberID) error {
	network, err := s.load(ctx, ownerUID)
	if err != nil {
		return err
	}

	kept := network.Members[:0]
	removed := false
	for _, member := range network.Members {
		if member.ID == memberID {
			removed = true
			continue
		}
		kept = append(kept, member)
	}
	if !removed {
		return dErrors.New(dErrors.CodeNotFound, "member not found")
	}
	network.Members = kept
	network.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.Save(ctx, network); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "save family network")
	}

	membersRemoved.Inc()
	s.emitAudit(ctx, audit.ActionMemberRemoved, ownerUID, ownerUID, "member "+memberID.String())
	return nil
}

// UpdateMemberPermissions merges boolean flags into a member's capability
// set. AccessLevel is recomputed from the result; it is never set directly.
func (s *Service) UpdateMemberPermissions(ctx context.Context, ownerUID domain.UserID, memberID domain.MemberID, patch domain.PermissionsPatch) (*Member, error) {
	if patch.Empty() {
		return nil, dErrors.New(dErrors.CodeValidation, "permissions patch must not be empty")
	}

	network, err := s.load(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	member := network.MemberByID(memberID)
	if member == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
	}

	member.Permissions = patch.Apply(member.Permissions)
	member.AccessLevel = DeriveAccessLevel(member.Permissions)
	network.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.Save(ctx, network); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "save family network")
	}

	result := *member
	return &result, nil
}

// SetEmergencyContact flips a member's emergency-contact flag and notifies
// the owner when it turns on.
func (s *Service) SetEmergencyContact(ctx context.Context, ownerUID domain.UserID, memberID domain.MemberID, isEmergencyContact bool) (*Member, error) {
	network, err := s.load(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	member := network.MemberByID(memberID)
	if member == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
	}

	becameEmergency := isEmergencyContact && !member.IsEmergencyContact
	member.IsEmergencyContact = isEmergencyContact
	network.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.Save(ctx, network); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "save family network")
	}

	if becameEmergency {
		s.notifyQuietly(ctx, notify.Input{
			RecipientID: ownerUID,
			Type:        notify.TypeFamilyEmergencyContact,
			Title:       "Emergency contact added",
			Message:     fmt.Sprintf("%s is now an emergency contact for your records", member.Name),
			Priority:    notify.PriorityHigh,
			Data: map[string]string{
				"member_id": member.ID.String(),
			},
		})
	}

	result := *member
	return &result, nil
}

// TouchMemberAccess stamps a member's LastAccess. Called by the record
// serving layer after a successful family-sourced access. Best-effort.
func (s *Service) TouchMemberAccess(ctx context.Context, ownerUID domain.UserID, memberUID domain.UserID) {
	network, err := s.load(ctx, ownerUID)
	if err != nil {
		return
	}
	member := network.MemberByUID(memberUID)
	if member == nil {
		return
	}
	member.LastAccess = requestcontext.Now(ctx)
	if err := s.store.Save(ctx, network); err != nil {
		s.logger.Warn("touch member access failed", "owner_uid", ownerUID.String(), "error", err)
	}
}

// Get returns the owner's network.
func (s *Service) Get(ctx context.Context, ownerUID domain.UserID) (*Network, error) {
	return s.load(ctx, ownerUID)
}

// Deduplicate collapses duplicate members keyed by normalized email,
// keeping the most recently connected entry. Delegates to the
// reconciliation engine.
func (s *Service) Deduplicate(ctx context.Context, ownerUID domain.UserID) (int, error) {
	if s.deduper == nil {
		return 0, dErrors.New(dErrors.CodeInternal, "deduper not configured")
	}
	return s.deduper.DedupeMembers(ctx, ownerUID)
}

func (s *Service) load(ctx context.Context, ownerUID domain.UserID) (*Network, error) {
	network, err := s.store.Find(ctx, ownerUID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "family network not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load family network")
	}
	return network, nil
}

func (s *Service) loadOrCreate(ctx context.Context, ownerUID domain.UserID, now time.Time) (*Network, error) {
	network, err := s.store.Find(ctx, ownerUID)
	if err == nil {
		return network, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load family network")
	}

	ownerEmail := ""
	if s.directory != nil {
		if profile, err := s.directory.Lookup(ctx, ownerUID); err == nil {
			ownerEmail = profile.Email
		}
	}
	return &Network{
		UserUID:   ownerUID,
		UserEmail: ownerEmail,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) emitAudit(ctx context.Context, action audit.Action, actorID, subjectID domain.UserID, detail string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.NewEvent(action, actorID, subjectID, detail)); err != nil {
		s.logger.Warn("audit emit failed", "action", string(action), "error", err)
	}
}

func (s *Service) notifyQuietly(ctx context.Context, input notify.Input) {
	if s.fanout == nil {
		return
	}
	if _, err := s.fanout.Notify(ctx, input); err != nil {
		s.logger.Warn("notification fanout failed",
			"type", string(input.Type),
			"recipient_id", input.RecipientID.String(),
			"error", err)
	}
}
