// Package service orchestrates the relationship ledger: connection request
// lifecycle, relationship creation on accept, permission updates, and
// revocation. It is the only writer of requests and relationships.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carelink/internal/audit"
	"carelink/internal/identity"
	"carelink/internal/ledger/metrics"
	"carelink/internal/ledger/models"
	"carelink/internal/ledger/store"
	"carelink/internal/notify"
	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

// Fanout is the notification side of the ledger. Failures are logged and
// swallowed; the ledger mutation stays authoritative.
type Fanout interface {
	Notify(ctx context.Context, input notify.Input) (*notify.Notification, error)
}

// AuditPublisher records trust transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AtomicRunner scopes a function to one atomic store unit. The Postgres
// implementation wraps a transaction; the in-memory stores get a
// passthrough, where each conditional write is individually atomic.
type AtomicRunner interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error
}

type passthroughRunner struct{}

func (passthroughRunner) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service implements the ledger operations.
type Service struct {
	requests      store.RequestStore
	relationships store.RelationshipStore
	directory     identity.Directory
	fanout        Fanout
	auditor       AuditPublisher
	runner        AtomicRunner
	logger        *slog.Logger
	metrics       *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAtomicRunner installs a transactional runner so accept marks the
// request and creates the relationship in one unit.
func WithAtomicRunner(runner AtomicRunner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

// New constructs a Service.
func New(requests store.RequestStore, relationships store.RelationshipStore, directory identity.Directory, fanout Fanout, opts ...Option) *Service {
	s := &Service{
		requests:      requests,
		relationships: relationships,
		directory:     directory,
		fanout:        fanout,
		runner:        passthroughRunner{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest records a new connection offer between a doctor and a
// patient. The actor must be one of the two parties. Display data for both
// parties is snapshotted from the directory at creation and never refreshed.
func (s *Service) CreateRequest(ctx context.Context, actorID, doctorID, patientID domain.UserID, method models.ConnectionMethod, message string) (*models.ConnectionRequest, error) {
	if doctorID == "" || patientID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "doctor and patient ids are required")
	}
	if doctorID == patientID {
		return nil, dErrors.New(dErrors.CodeValidation, "doctor and patient must be distinct")
	}
	if !method.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown connection method: "+string(method))
	}
	if actorID != doctorID && actorID != patientID {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor is not a party to the request")
	}

	doctor, err := s.directory.Lookup(ctx, doctorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "doctor identity cannot be resolved")
	}
	patient, err := s.directory.Lookup(ctx, patientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "patient identity cannot be resolved")
	}

	now := requestcontext.Now(ctx)
	request := &models.ConnectionRequest{
		ID:           domain.NewRequestID(),
		DoctorID:     doctorID,
		PatientID:    patientID,
		PatientEmail: patient.Email,
		Doctor: models.PartySnapshot{
			Name:           doctor.Name,
			Email:          doctor.Email,
			Specialization: doctor.Specialization,
		},
		Patient: models.PartySnapshot{
			Name:  patient.Name,
			Email: patient.Email,
		},
		Method:      method,
		Message:     message,
		InitiatedBy: actorID,
		Status:      models.RequestStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.requests.CreateIfNoPending(ctx, request); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a pending request already exists for this pair")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "create request")
	}

	if s.metrics != nil {
		s.metrics.RequestsCreated.Inc()
	}
	s.emitAudit(ctx, audit.ActionRequestCreated, actorID, patientID, "request "+request.ID.String())

	s.notifyQuietly(ctx, notify.Input{
		RecipientID: request.AddressedParty(),
		SenderID:    actorID,
		Type:        notify.TypeDoctorConnectionRequest,
		Title:       "New connection request",
		Message:     fmt.Sprintf("%s would like to connect with you", initiatorName(request)),
		Data: map[string]string{
			"request_id": request.ID.String(),
		},
	})

	return request, nil
}

// AcceptRequest transitions a pending request to accepted and, in the same
// atomic unit, ensures an active relationship exists for the pair. Two
// concurrent accepts cannot both create a relationship: the store's
// conditional insert lets exactly one win and hands the loser the winner's
// record, making accept idempotent under races.
func (s *Service) AcceptRequest(ctx context.Context, requestID domain.RequestID, actorID domain.UserID) (*models.Relationship, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveAccept(start)
		}
	}()

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.AddressedTo(actorID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor is not the request's addressed party")
	}

	now := requestcontext.Now(ctx)
	var relationship *models.Relationship
	err = s.runner.RunAtomic(ctx, func(ctx context.Context) error {
		if err := s.requests.UpdateStatusIfPending(ctx, requestID, models.RequestStatusAccepted, now); err != nil {
			return err
		}
		candidate := &models.Relationship{
			ID:          domain.NewRelationshipID(),
			PatientID:   request.PatientID,
			DoctorID:    request.DoctorID,
			Patient:     request.Patient,
			Doctor:      request.Doctor,
			Status:      models.RelationshipStatusActive,
			Permissions: domain.DefaultRelationshipPermissions(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		existing, created, err := s.relationships.CreateActiveIfAbsent(ctx, candidate)
		if err != nil {
			return err
		}
		if !created && s.metrics != nil {
			s.metrics.AcceptIdempotentHits.Inc()
		}
		relationship = existing
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			// A concurrent accept may have won between our read and the
			// conditional update. If the request is now accepted, return the
			// surviving relationship instead of erroring.
			if rel, raceErr := s.acceptedRaceResult(ctx, requestID, request); raceErr == nil {
				return rel, nil
			}
			return nil, dErrors.New(dErrors.CodeInvalidState, "request is not pending")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "accept request")
		}
	}

	if s.metrics != nil {
		s.metrics.RequestsAccepted.Inc()
	}
	s.emitAudit(ctx, audit.ActionRequestAccepted, actorID, request.PatientID, "request "+requestID.String())
	s.emitAudit(ctx, audit.ActionAccessGrant, actorID, request.PatientID, "relationship "+relationship.ID.String())

	s.notifyQuietly(ctx, notify.Input{
		RecipientID: request.PatientID,
		SenderID:    actorID,
		Type:        notify.TypeConnectionAccepted,
		Title:       "Connection accepted",
		Message:     fmt.Sprintf("You are now connected with %s", request.Doctor.Name),
		Data: map[string]string{
			"request_id":      requestID.String(),
			"relationship_id": relationship.ID.String(),
		},
	})

	return relationship, nil
}

// acceptedRaceResult resolves the idempotent-accept path: when the request
// already reached accepted, the pair's active relationship is the answer.
func (s *Service) acceptedRaceResult(ctx context.Context, requestID domain.RequestID, request *models.ConnectionRequest) (*models.Relationship, error) {
	current, err := s.requests.FindByID(ctx, requestID)
	if err != nil || current.Status != models.RequestStatusAccepted {
		return nil, sentinel.ErrInvalidState
	}
	relationship, err := s.relationships.FindActiveByPair(ctx, request.PatientID, request.DoctorID)
	if err != nil {
		return nil, sentinel.ErrInvalidState
	}
	return relationship, nil
}

// RejectRequest transitions a pending request to rejected. No relationship
// side effect.
func (s *Service) RejectRequest(ctx context.Context, requestID domain.RequestID, actorID domain.UserID) error {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !request.AddressedTo(actorID) {
		return dErrors.New(dErrors.CodeForbidden, "actor is not the request's addressed party")
	}

	if err := s.requests.UpdateStatusIfPending(ctx, requestID, models.RequestStatusRejected, requestcontext.Now(ctx)); err != nil {
		return s.translateTransition(err)
	}

	if s.metrics != nil {
		s.metrics.RequestsRejected.Inc()
	}
	s.emitAudit(ctx, audit.ActionRequestRejected, actorID, request.PatientID, "request "+requestID.String())

	s.notifyQuietly(ctx, notify.Input{
		RecipientID: request.InitiatedBy,
		SenderID:    actorID,
		Type:        notify.TypeConnectionRejected,
		Title:       "Connection declined",
		Message:     "Your connection request was declined",
		Data: map[string]string{
			"request_id": requestID.String(),
		},
	})

	return nil
}

// ExpireRequest transitions a pending request to expired. The trigger is an
// external timer collaborator; the ledger only enforces that expiry applies
// to pending requests.
func (s *Service) ExpireRequest(ctx context.Context, requestID domain.RequestID) error {
	if err := s.requests.UpdateStatusIfPending(ctx, requestID, models.RequestStatusExpired, requestcontext.Now(ctx)); err != nil {
		return s.translateTransition(err)
	}
	if s.metrics != nil {
		s.metrics.RequestsExpired.Inc()
	}
	return nil
}

// UpdatePermissions merges a capability patch into a relationship. Only the
// patient party may adjust what their doctor can see.
func (s *Service) UpdatePermissions(ctx context.Context, relationshipID domain.RelationshipID, actorID domain.UserID, patch domain.PermissionsPatch) (*models.Relationship, error) {
	if patch.Empty() {
		return nil, dErrors.New(dErrors.CodeValidation, "permissions patch must not be empty")
	}

	relationship, err := s.loadRelationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if actorID != relationship.PatientID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the patient may update permissions")
	}
	if !relationship.Active() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "relationship is revoked")
	}

	now := requestcontext.Now(ctx)
	merged := patch.Apply(relationship.Permissions)
	if err := s.relationships.UpdatePermissions(ctx, relationshipID, merged, now); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "relationship not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "update permissions")
	}

	relationship.Permissions = merged
	relationship.UpdatedAt = now
	return relationship, nil
}

// Revoke terminates a relationship. Idempotent: revoking an already revoked
// relationship is a no-op, not an error. Either party may revoke.
func (s *Service) Revoke(ctx context.Context, relationshipID domain.RelationshipID, actorID domain.UserID) error {
	relationship, err := s.loadRelationship(ctx, relationshipID)
	if err != nil {
		return err
	}
	if !relationship.Party(actorID) {
		return dErrors.New(dErrors.CodeForbidden, "actor is not a party to the relationship")
	}

	transitioned, err := s.relationships.SetRevoked(ctx, relationshipID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "relationship not found")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "revoke relationship")
	}
	if !transitioned {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RelationshipsRevoked.Inc()
	}
	s.emitAudit(ctx, audit.ActionAccessRevoke, actorID, relationship.PatientID, "relationship "+relationshipID.String())

	recipient := relationship.PatientID
	if actorID == relationship.PatientID {
		recipient = relationship.DoctorID
	}
	s.notifyQuietly(ctx, notify.Input{
		RecipientID: recipient,
		SenderID:    actorID,
		Type:        notify.TypeRelationshipRevoked,
		Title:       "Access revoked",
		Message:     fmt.Sprintf("The connection between %s and %s has been revoked", relationship.Patient.Name, relationship.Doctor.Name),
		Data: map[string]string{
			"relationship_id": relationshipID.String(),
		},
	})

	return nil
}

// GetRelationship returns a relationship visible to one of its parties.
func (s *Service) GetRelationship(ctx context.Context, relationshipID domain.RelationshipID, actorID domain.UserID) (*models.Relationship, error) {
	relationship, err := s.loadRelationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if !relationship.Party(actorID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor is not a party to the relationship")
	}
	return relationship, nil
}

// ListRelationships returns a patient's relationships, newest first.
func (s *Service) ListRelationships(ctx context.Context, patientID domain.UserID) ([]*models.Relationship, error) {
	relationships, err := s.relationships.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list relationships")
	}
	return relationships, nil
}

func (s *Service) loadRequest(ctx context.Context, requestID domain.RequestID) (*models.ConnectionRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load request")
	}
	return request, nil
}

func (s *Service) loadRelationship(ctx context.Context, relationshipID domain.RelationshipID) (*models.Relationship, error) {
	relationship, err := s.relationships.FindByID(ctx, relationshipID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "relationship not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load relationship")
	}
	return relationship, nil
}

func (s *Service) translateTransition(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidState, "request is not pending")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "update request")
	}
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

func initiatorName(request *models.ConnectionRequest) string {
	if request.InitiatedBy == request.DoctorID {
		return request.Doctor.Name
	}
	return request.Patient.Name
}
