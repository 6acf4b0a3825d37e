// Package access answers one question: may this actor see this kind of
// resource belonging to this patient, and with what scope. Decisions are
// computed from live ledger and family state on every call so revocation
// takes effect immediately.
package access

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"carelink/internal/family"
	"carelink/internal/ledger/store"
	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carelink_access_decisions_total",
	Help: "Access decisions by source and outcome",
}, []string{"source", "allowed"})

// Source identifies which grant produced a decision.
type Source string

const (
	// SourceSelf: patients always see their own data.
	SourceSelf Source = "self"
	// SourceRelationship: an active doctor relationship granted access.
	SourceRelationship Source = "relationship"
	// SourceFamily: a family network membership granted access.
	SourceFamily Source = "family"
	// SourceNone: no grant covers the actor.
	SourceNone Source = "none"
)

// Scope is the capability breadth behind an allowed decision.
type Scope string

const (
	ScopeFull    Scope = "full"
	ScopeLimited Scope = "limited"
	ScopeNone    Scope = "none"
)

// Decision is the resolver's answer.
type Decision struct {
	Allowed bool
	Scope   Scope
	Source  Source
}

// Resolver computes access decisions. It never mutates state.
type Resolver struct {
	relationships store.RelationshipStore
	networks      family.Store
	logger        *slog.Logger
}

type Option func(r *Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func New(relationships store.RelationshipStore, networks family.Store, opts ...Option) *Resolver {
	r := &Resolver{
		relationships: relationships,
		networks:      networks,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve decides whether actorID may access resources of the given kind
// belonging to patientID. Grants are checked in precedence order: self,
// then active relationship, then family membership. An emergency contact
// is allowed emergency resources regardless of their permission flags.
func (r *Resolver) Resolve(ctx context.Context, actorID, patientID domain.UserID, kind domain.ResourceKind) (Decision, error) {
	if actorID == "" || patientID == "" {
		return Decision{}, dErrors.New(dErrors.CodeValidation, "actor and patient are required")
	}
	if !kind.Valid() {
		return Decision{}, dErrors.New(dErrors.CodeValidation, "unknown resource kind")
	}

	if actorID == patientID {
		return r.record(Decision{Allowed: true, Scope: ScopeFull, Source: SourceSelf}), nil
	}

	decision, matched, err := r.resolveRelationship(ctx, actorID, patientID, kind)
	if err != nil {
		return Decision{}, err
	}
	if matched {
		return r.record(decision), nil
	}

	decision, matched, err = r.resolveFamily(ctx, actorID, patientID, kind)
	if err != nil {
		return Decision{}, err
	}
	if matched {
		return r.record(decision), nil
	}

	return r.record(Decision{Allowed: false, Scope: ScopeNone, Source: SourceNone}), nil
}

func (r *Resolver) resolveRelationship(ctx context.Context, actorID, patientID domain.UserID, kind domain.ResourceKind) (Decision, bool, error) {
	relationship, err := r.relationships.FindActiveByPair(ctx, patientID, actorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Decision{}, false, nil
		}
		return Decision{}, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "load relationship")
	}

	return Decision{
		Allowed: relationship.Permissions.Allows(kind),
		Scope:   scopeOf(relationship.Permissions),
		Source:  SourceRelationship,
	}, true, nil
}

func (r *Resolver) resolveFamily(ctx context.Context, actorID, patientID domain.UserID, kind domain.ResourceKind) (Decision, bool, error) {
	network, err := r.networks.Find(ctx, patientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Decision{}, false, nil
		}
		return Decision{}, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "load family network")
	}

	member := network.MemberByUID(actorID)
	if member == nil {
		return Decision{}, false, nil
	}

	allowed := member.Permissions.Allows(kind)
	if kind == domain.ResourceEmergency && member.IsEmergencyContact {
		allowed = true
	}
	return Decision{
		Allowed: allowed,
		Scope:   scopeOf(member.Permissions),
		Source:  SourceFamily,
	}, true, nil
}

func (r *Resolver) record(decision Decision) Decision {
	allowed := "false"
	if decision.Allowed {
		allowed = "true"
	}
	decisions.WithLabelValues(string(decision.Source), allowed).Inc()
	return decision
}

func scopeOf(permissions domain.Permissions) Scope {
	if permissions.All() {
		return ScopeFull
	}
	return ScopeLimited
}
