// Package reconcile repairs duplicate records that predate the conditional
// write guards: multiple active relationships for one (patient, doctor)
// pair, and family members sharing a normalized email. The newest record
// survives; older duplicates are deleted, never merged.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"carelink/internal/family"
	"carelink/internal/ledger/models"
	"carelink/internal/ledger/store"
	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
)

var (
	duplicatesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_reconcile_duplicates_deleted_total",
		Help: "Duplicate active relationships deleted by reconciliation",
	})

	chunksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_reconcile_chunks_failed_total",
		Help: "Deletion chunks that failed and were skipped",
	})

	membersDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_reconcile_members_deduped_total",
		Help: "Duplicate family members removed by reconciliation",
	})
)

const (
	defaultChunkSize   = 500
	defaultConcurrency = 4
)

// Report summarizes one reconciliation pass.
type Report struct {
	// Scanned is the number of active relationships examined.
	Scanned int
	// Duplicates is the number of records identified for deletion.
	Duplicates int
	// Deleted is the number actually deleted.
	Deleted int
	// Chunks is the number of deletion batches issued.
	Chunks int
	// Failed is the number of batches that errored and were skipped.
	Failed int
	// Clean reports whether a verification re-pass found no remaining
	// duplicates.
	Clean bool
}

// Engine runs duplicate detection and repair.
type Engine struct {
	relationships store.RelationshipStore
	networks      family.Store
	chunkSize     int
	concurrency   int
	logger        *slog.Logger
}

type Option func(e *Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithChunkSize caps how many duplicates one atomic delete may carry.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithConcurrency bounds how many patients a full sweep repairs in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func New(relationships store.RelationshipStore, networks family.Store, opts ...Option) *Engine {
	e := &Engine{
		relationships: relationships,
		networks:      networks,
		chunkSize:     defaultChunkSize,
		concurrency:   defaultConcurrency,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReconcilePatient repairs one patient's relationships. For every doctor
// with more than one active relationship, the most recently created record
// survives and the rest are deleted in bounded chunks. A failed chunk is
// logged, counted, and skipped; the pass continues with the next chunk.
func (e *Engine) ReconcilePatient(ctx context.Context, patientID domain.UserID) (Report, error) {
	report, err := e.repairOnce(ctx, patientID)
	if err != nil {
		return report, err
	}

	// Verification re-pass. Concurrent accepts may have raced the repair.
	leftovers, err := e.findDuplicates(ctx, patientID)
	if err != nil {
		return report, err
	}
	report.Clean = len(leftovers) == 0
	if !report.Clean {
		e.logger.Warn("reconciliation left duplicates behind",
			"patient_id", patientID.String(),
			"remaining", len(leftovers))
	}
	return report, nil
}

// ReconcileAll sweeps every patient in the collection with bounded
// concurrency. Per-patient failures are logged and folded into the report
// rather than aborting the sweep.
func (e *Engine) ReconcileAll(ctx context.Context) (Report, error) {
	patientIDs, err := e.relationships.ListPatientIDs(ctx)
	if err != nil {
		return Report{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "list patients for sweep")
	}

	var (
		group, groupCtx = errgroup.WithContext(ctx)
		reports         = make([]Report, len(patientIDs))
	)
	group.SetLimit(e.concurrency)
	for i, patientID := range patientIDs {
		group.Go(func() error {
			report, err := e.ReconcilePatient(groupCtx, patientID)
			if err != nil {
				e.logger.Error("patient reconciliation failed",
					"patient_id", patientID.String(),
					"error", err)
				report.Failed++
			}
			reports[i] = report
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, err
	}

	var total Report
	total.Clean = true
	for _, report := range reports {
		total.Scanned += report.Scanned
		total.Duplicates += report.Duplicates
		total.Deleted += report.Deleted
		total.Chunks += report.Chunks
		total.Failed += report.Failed
		total.Clean = total.Clean && report.Clean
	}
	return total, nil
}

// DedupeMembers removes family members that share a normalized email,
// keeping the most recently connected one. The repaired member list is
// written back as a single document update.
func (e *Engine) DedupeMembers(ctx context.Context, ownerUID domain.UserID) (int, error) {
	network, err := e.networks.Find(ctx, ownerUID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, nil
		}
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "load family network")
	}

	survivors := make(map[string]family.Member, len(network.Members))
	order := make([]string, 0, len(network.Members))
	for _, member := range network.Members {
		key := member.NormalizedEmail()
		current, seen := survivors[key]
		if !seen {
			survivors[key] = member
			order = append(order, key)
			continue
		}
		if member.ConnectedAt.After(current.ConnectedAt) {
			survivors[key] = member
		}
	}

	removed := len(network.Members) - len(survivors)
	if removed == 0 {
		return 0, nil
	}

	kept := make([]family.Member, 0, len(survivors))
	for _, key := range order {
		kept = append(kept, survivors[key])
	}
	network.Members = kept

	if err := e.networks.Save(ctx, network); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "save deduplicated network")
	}

	membersDeduped.Add(float64(removed))
	e.logger.Info("family members deduplicated",
		"owner_uid", ownerUID.String(),
		"removed", removed)
	return removed, nil
}

func (e *Engine) repairOnce(ctx context.Context, patientID domain.UserID) (Report, error) {
	var report Report
	duplicates, err := e.findDuplicates(ctx, patientID)
	if err != nil {
		return report, err
	}

	relationships, err := e.relationships.ListByPatient(ctx, patientID)
	if err != nil {
		return report, dErrors.Wrap(err, dErrors.CodeUnavailable, "list relationships")
	}
	for _, relationship := range relationships {
		if relationship.Active() {
			report.Scanned++
		}
	}
	report.Duplicates = len(duplicates)

	for start := 0; start < len(duplicates); start += e.chunkSize {
		end := min(start+e.chunkSize, len(duplicates))
		chunk := duplicates[start:end]
		report.Chunks++

		if err := e.relationships.DeleteBatch(ctx, chunk); err != nil {
			report.Failed++
			chunksFailed.Inc()
			e.logger.Error("duplicate deletion chunk failed",
				"patient_id", patientID.String(),
				"chunk_size", len(chunk),
				"error", err)
			continue
		}
		report.Deleted += len(chunk)
		duplicatesDeleted.Add(float64(len(chunk)))
	}

	if report.Deleted > 0 {
		e.logger.Info("duplicate relationships repaired",
			"patient_id", patientID.String(),
			"deleted", report.Deleted,
			"chunks", report.Chunks)
	}
	return report, nil
}

// findDuplicates returns the IDs of active relationships that lose to a
// newer record for the same doctor. The survivor is never listed.
func (e *Engine) findDuplicates(ctx context.Context, patientID domain.UserID) ([]domain.RelationshipID, error) {
	relationships, err := e.relationships.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list relationships")
	}

	byDoctor := make(map[domain.UserID][]*models.Relationship)
	for _, relationship := range relationships {
		if !relationship.Active() {
			continue
		}
		byDoctor[relationship.DoctorID] = append(byDoctor[relationship.DoctorID], relationship)
	}

	var duplicates []domain.RelationshipID
	for _, group := range byDoctor {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.After(group[j].CreatedAt)
			}
			return group[i].ID > group[j].ID
		})
		for _, loser := range group[1:] {
			duplicates = append(duplicates, loser.ID)
		}
	}
	return duplicates, nil
}
