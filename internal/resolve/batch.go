package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/musubi/internal/model"
)

// ErrBatchSizeExceeded is returned when a batch has reached its cap of new
// entries; the caller must commit and start a new batch.
var ErrBatchSizeExceeded = errors.New("resolve: batch size exceeded")

// ErrBatchClosed rejects use of a committed or abandoned batch.
var ErrBatchClosed = errors.New("resolve: batch is closed")

// perEntryOverheadBytes approximates the bookkeeping cost of one batch
// entry beyond its name.
const perEntryOverheadBytes = 256

// memoryWarnFraction is where the one-shot soft-ceiling warning fires.
const memoryWarnFraction = 0.8

// DeferredRelationship is a relationship queued for creation at commit.
type DeferredRelationship struct {
	SourceEntityID uuid.UUID
	TargetEntityID uuid.UUID
	Type           string
	Properties     map[string]any
	CreatedBy      string
}

// RelationshipError records one failed deferred relationship.
type RelationshipError struct {
	Relationship DeferredRelationship
	Err          error
}

// BatchResult summarizes a committed batch.
type BatchResult struct {
	TotalResolved        int
	NewEntitiesCreated   int
	RelationshipsCreated int
	RelationshipErrors   []RelationshipError
}

// Batch is a scoped buffer for bulk resolution: it dedups case-insensitively
// within the batch, defers relationship creation until commit, and enforces
// size and memory guards. A batch belongs to one goroutine; entity
// resolutions performed through it are durable immediately, only the
// deferred relationships wait for Commit.
type Batch struct {
	p *Pipeline

	mu        sync.Mutex
	seen      map[string]*Result
	deferred  []DeferredRelationship
	resolved  int
	created   int
	memBytes  int64
	warned    bool
	committed bool
	abandoned bool
}

// NewBatch opens a batch over the pipeline.
func NewBatch(p *Pipeline) *Batch {
	return &Batch{p: p, seen: make(map[string]*Result)}
}

func batchKey(name string, t model.EntityType) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + string(t)
}

// Resolve resolves one name within the batch. A name already seen in this
// batch (case-insensitively) returns the prior result without touching the
// store and without counting against the batch cap.
func (b *Batch) Resolve(ctx context.Context, name string, t model.EntityType) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed || b.abandoned {
		return nil, ErrBatchClosed
	}
	key := batchKey(name, t)
	if prior, ok := b.seen[key]; ok {
		b.resolved++
		return cachedView(prior, name), nil
	}
	if len(b.seen) >= b.p.opts.MaxBatchSize {
		return nil, fmt.Errorf("resolve: batch cap %d reached: %w", b.p.opts.MaxBatchSize, ErrBatchSizeExceeded)
	}

	result, err := b.p.Resolve(ctx, name, t)
	if err != nil {
		return nil, err
	}
	b.seen[key] = result
	b.resolved++
	if result.IsNewEntity {
		b.created++
	}
	b.trackMemory(int64(len(name)) + perEntryOverheadBytes)
	return result, nil
}

func (b *Batch) trackMemory(delta int64) {
	b.memBytes += delta
	limit := b.p.opts.MaxBatchMemoryBytes
	if limit <= 0 || b.warned {
		return
	}
	if float64(b.memBytes) >= memoryWarnFraction*float64(limit) {
		b.warned = true
		b.p.logger.Warn("resolve: batch approaching memory ceiling",
			"used_bytes", b.memBytes, "limit_bytes", limit)
	}
}

// DeferRelationship queues a relationship for creation at commit.
func (b *Batch) DeferRelationship(rel DeferredRelationship) error {
	if err := ValidateRelationshipType(rel.Type); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed || b.abandoned {
		return ErrBatchClosed
	}
	b.deferred = append(b.deferred, rel)
	b.trackMemory(int64(len(rel.Type)) + perEntryOverheadBytes)
	return nil
}

// Commit creates the deferred relationships in chunks. Each failure is
// recorded and does not abort the remaining relationships; the entity
// resolutions themselves are already durable.
func (b *Batch) Commit(ctx context.Context) (*BatchResult, error) {
	b.mu.Lock()
	if b.committed || b.abandoned {
		b.mu.Unlock()
		return nil, ErrBatchClosed
	}
	b.committed = true
	deferred := b.deferred
	b.deferred = nil
	result := &BatchResult{
		TotalResolved:      b.resolved,
		NewEntitiesCreated: b.created,
	}
	b.mu.Unlock()

	chunkSize := b.p.opts.BatchCommitChunkSize
	if chunkSize <= 0 {
		chunkSize = 100
	}
	var resMu sync.Mutex
	for start := 0; start < len(deferred); start += chunkSize {
		end := min(start+chunkSize, len(deferred))
		chunk := deferred[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, rel := range chunk {
			g.Go(func() error {
				err := b.createRelationship(gctx, rel)
				resMu.Lock()
				defer resMu.Unlock()
				if err != nil {
					result.RelationshipErrors = append(result.RelationshipErrors, RelationshipError{Relationship: rel, Err: err})
				} else {
					result.RelationshipsCreated++
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return result, nil
}

func (b *Batch) createRelationship(ctx context.Context, rel DeferredRelationship) error {
	r := &model.Relationship{
		ID:             uuid.New(),
		SourceEntityID: rel.SourceEntityID,
		TargetEntityID: rel.TargetEntityID,
		Type:           rel.Type,
		Properties:     rel.Properties,
		CreatedAt:      b.p.now().UTC(),
		CreatedBy:      rel.CreatedBy,
	}
	if err := b.p.repos.Relationships.Create(ctx, r); err != nil {
		return err
	}
	b.p.audit(ctx, model.AuditRelCreated, rel.SourceEntityID, map[string]any{
		"relationship_id": r.ID.String(),
		"type":            rel.Type,
		"target":          rel.TargetEntityID.String(),
	})
	return nil
}

// Rollback abandons the batch: deferred relationships are dropped. Entity
// resolutions already performed stay durable.
func (b *Batch) Rollback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abandoned = true
	b.deferred = nil
}

// Close auto-commits a batch that was neither committed nor rolled back.
func (b *Batch) Close(ctx context.Context) error {
	b.mu.Lock()
	done := b.committed || b.abandoned
	b.mu.Unlock()
	if done {
		return nil
	}
	res, err := b.Commit(ctx)
	if err != nil {
		return err
	}
	if len(res.RelationshipErrors) > 0 {
		b.p.logger.Warn("resolve: batch auto-commit had relationship failures",
			"failed", len(res.RelationshipErrors), "created", res.RelationshipsCreated)
	}
	return nil
}
