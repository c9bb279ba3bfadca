// Package merge folds one ACTIVE entity into another as an ordered sequence
// of graph operations, each with a registered compensation. A failure
// anywhere unwinds the completed steps in reverse; success notifies merge
// listeners so caches can drop both sides.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/musubi/internal/audit"
	"github.com/ashita-ai/musubi/internal/lock"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/store"
	"github.com/ashita-ai/musubi/internal/telemetry"
)

// ErrAborted is returned after one or more steps failed and the registered
// compensations have run; graph state is consistent with pre-merge.
var ErrAborted = errors.New("merge: aborted")

// ErrInvalid rejects a merge whose endpoints are missing, identical, of
// different types, or not both ACTIVE.
var ErrInvalid = errors.New("merge: invalid request")

// Listener is notified after a merge commits. Implementations must not
// block; the cache is the canonical listener.
type Listener interface {
	OnMerge(sourceID, targetID uuid.UUID)
}

// Request describes one merge.
type Request struct {
	SourceID     uuid.UUID
	TargetID     uuid.UUID
	Score        float64
	Decision     string
	TriggeredBy  string
	Reasoning    string
	SourceSystem string
	LockTimeout  time.Duration
}

// Engine performs merges.
type Engine struct {
	repos     store.Repos
	auditor   *audit.Service
	locker    lock.Locker
	logger    *slog.Logger
	listeners []Listener
	now       func() time.Time

	tracer     trace.Tracer
	mergeCount metric.Int64Counter
	abortCount metric.Int64Counter
}

// NewEngine wires a merge engine.
func NewEngine(repos store.Repos, auditor *audit.Service, locker lock.Locker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("musubi/merge")
	merges, _ := meter.Int64Counter("musubi.merge.completed",
		metric.WithDescription("Merges committed"))
	aborts, _ := meter.Int64Counter("musubi.merge.aborted",
		metric.WithDescription("Merges rolled back"))
	return &Engine{
		repos:      repos,
		auditor:    auditor,
		locker:     locker,
		logger:     logger,
		now:        time.Now,
		tracer:     telemetry.Tracer("musubi/merge"),
		mergeCount: merges,
		abortCount: aborts,
	}
}

// AddListener registers a post-commit listener.
func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Merge folds source into target. Steps, each with its compensation:
//
//  1. attach source's canonical name as a SYSTEM synonym of target
//  2. record a Duplicate carrying source's pre-merge identity
//  3. rewrite every relationship endpoint from source to target
//  4. flip source to MERGED and link MERGED_INTO target
//  5. append the merge ledger record (append-only, no compensation)
//  6. record the ENTITY_MERGED audit entry (no compensation)
//
// The whole sequence runs under the target's identity lock.
func (e *Engine) Merge(ctx context.Context, req Request) (*model.MergeRecord, error) {
	ctx, span := e.tracer.Start(ctx, "merge.Engine.Merge", trace.WithAttributes(
		attribute.String("musubi.merge.source_id", req.SourceID.String()),
		attribute.String("musubi.merge.target_id", req.TargetID.String()),
	))
	defer span.End()

	source, target, err := e.loadAndValidate(ctx, req)
	if err != nil {
		return nil, err
	}

	lockKey := string(target.Type) + ":" + target.NormalizedName
	timeout := req.LockTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := e.locker.TryLock(ctx, lockKey, timeout); err != nil {
		return nil, fmt.Errorf("merge: serialize on target: %w", err)
	}
	defer func() {
		if err := e.locker.Unlock(ctx, lockKey); err != nil {
			e.logger.Warn("merge: unlock target failed", "key", lockKey, "error", err)
		}
	}()

	tx := newCompTx(e.logger)
	rec, err := e.run(ctx, tx, req, source, target)
	if err != nil {
		tx.rollback(ctx)
		e.abortCount.Add(ctx, 1)
		return nil, &abortErr{cause: err}
	}
	tx.commit()
	e.mergeCount.Add(ctx, 1)

	for _, l := range e.listeners {
		l.OnMerge(source.ID, target.ID)
	}
	e.logger.Info("merge: completed",
		"source_id", source.ID, "target_id", target.ID,
		"source_name", source.CanonicalName, "target_name", target.CanonicalName,
		"triggered_by", req.TriggeredBy)
	return rec, nil
}

func (e *Engine) loadAndValidate(ctx context.Context, req Request) (*model.Entity, *model.Entity, error) {
	if req.SourceID == req.TargetID {
		return nil, nil, fmt.Errorf("merge: source equals target %s: %w", req.SourceID, ErrInvalid)
	}
	source, err := e.repos.Entities.GetByID(ctx, req.SourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("merge: load source: %w", err)
	}
	target, err := e.repos.Entities.GetByID(ctx, req.TargetID)
	if err != nil {
		return nil, nil, fmt.Errorf("merge: load target: %w", err)
	}
	if source.Type != target.Type {
		return nil, nil, fmt.Errorf("merge: type mismatch %s vs %s: %w", source.Type, target.Type, ErrInvalid)
	}
	if source.Status != model.EntityStatusActive || target.Status != model.EntityStatusActive {
		return nil, nil, fmt.Errorf("merge: both entities must be ACTIVE: %w", ErrInvalid)
	}
	return source, target, nil
}

func (e *Engine) run(ctx context.Context, tx *compTx, req Request, source, target *model.Entity) (*model.MergeRecord, error) {
	now := e.now().UTC()

	// Step 1: source's canonical name survives as a synonym of the target.
	syn := &model.Synonym{
		ID:              uuid.New(),
		Value:           source.CanonicalName,
		NormalizedValue: source.NormalizedName,
		Source:          model.SynonymSourceSystem,
		Confidence:      req.Score,
		SupportCount:    1,
		CreatedAt:       now,
		LastConfirmedAt: now,
		EntityID:        target.ID,
	}
	if err := e.repos.Synonyms.Create(ctx, syn); err != nil {
		return nil, fmt.Errorf("attach synonym: %w", err)
	}
	tx.register("attach-synonym", func(ctx context.Context) error {
		return e.repos.Synonyms.Delete(ctx, syn.ID)
	})

	// Step 2: preserve the pre-merge identity.
	dup := &model.Duplicate{
		ID:             uuid.New(),
		OriginalName:   source.CanonicalName,
		NormalizedName: source.NormalizedName,
		SourceSystem:   req.SourceSystem,
		CreatedAt:      now,
		EntityID:       target.ID,
	}
	if err := e.repos.Duplicates.Create(ctx, dup); err != nil {
		return nil, fmt.Errorf("record duplicate: %w", err)
	}
	tx.register("record-duplicate", func(ctx context.Context) error {
		return e.repos.Duplicates.Delete(ctx, dup.ID)
	})

	// Step 3: no relationship may keep pointing at the merged source.
	rewrites, err := e.repos.Relationships.RewriteEndpoints(ctx, source.ID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("rewrite relationships: %w", err)
	}
	tx.register("rewrite-relationships", func(ctx context.Context) error {
		return e.repos.Relationships.RestoreEndpoints(ctx, rewrites)
	})

	// Step 4: retire the source behind a MERGED_INTO edge.
	if err := e.repos.Entities.MarkMerged(ctx, source.ID, target.ID); err != nil {
		return nil, fmt.Errorf("mark merged: %w", err)
	}
	tx.register("mark-merged", func(ctx context.Context) error {
		return e.repos.Entities.UnmarkMerged(ctx, source.ID, target.ID)
	})

	// Step 5: ledger append. Append-only, so no compensation — this is the
	// last step that can fail, so a rolled back merge leaves no record here.
	rec := &model.MergeRecord{
		ID:               uuid.New(),
		SourceEntityID:   source.ID,
		TargetEntityID:   target.ID,
		SourceEntityName: source.CanonicalName,
		TargetEntityName: target.CanonicalName,
		ConfidenceScore:  req.Score,
		Decision:         req.Decision,
		TriggeredBy:      req.TriggeredBy,
		Reasoning:        req.Reasoning,
		Timestamp:        now,
	}
	if err := e.repos.Ledger.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append merge record: %w", err)
	}

	// Step 6: audit trail. Record never fails the merge.
	e.auditor.Record(ctx, model.AuditEntityMerged, target.ID, req.TriggeredBy, map[string]any{
		"source_entity_id": source.ID.String(),
		"source_name":      source.CanonicalName,
		"target_name":      target.CanonicalName,
		"score":            req.Score,
		"decision":         req.Decision,
	})

	return rec, nil
}

// abortErr carries the step failure while classifying as ErrAborted.
type abortErr struct{ cause error }

func (e *abortErr) Error() string { return "merge: aborted: " + e.cause.Error() }

func (e *abortErr) Unwrap() []error { return []error{ErrAborted, e.cause} }
