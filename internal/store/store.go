// Package store provides the repositories over the entity graph: CRUD and
// traversal for entities, synonyms, duplicates, relationships, decisions,
// reviews, and the merge ledger.
//
// Two implementations exist and are contract-equivalent: a graph-backed one
// speaking cypher through the handle pool, and an in-memory one used for
// tests and embedded runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrReviewState is returned when approving or rejecting a non-pending
// review item.
var ErrReviewState = errors.New("store: review item is not pending")

// ErrCorruptMergeChain is returned when a MERGED_INTO walk does not end at
// an ACTIVE entity.
var ErrCorruptMergeChain = errors.New("store: merge chain does not terminate at an active entity")

// EntityRepo manages Entity nodes, their blocking keys, and the MERGED_INTO
// chain.
type EntityRepo interface {
	// Create persists a new ACTIVE entity and links its blocking keys
	// (MERGE semantics: key nodes are shared across entities).
	Create(ctx context.Context, e *model.Entity, blockingKeys []string) error

	// GetByID returns any entity by id, soft-deleted excluded.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Entity, error)

	// FindActiveByNormalized returns the single ACTIVE entity for the
	// identity (normalizedName, type), or ErrNotFound.
	FindActiveByNormalized(ctx context.Context, normalized string, t model.EntityType) (*model.Entity, error)

	// FindCandidatesByBlockingKeys returns the distinct ACTIVE entities of
	// the type reachable from any of the given blocking keys.
	FindCandidatesByBlockingKeys(ctx context.Context, keys []string, t model.EntityType) ([]*model.Entity, error)

	// ScanActiveByType lists ACTIVE entities of a type, bounded by limit.
	// Fallback for a cold blocking index.
	ScanActiveByType(ctx context.Context, t model.EntityType, limit int) ([]*model.Entity, error)

	// MarkMerged flips source to MERGED and creates the MERGED_INTO edge.
	MarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error

	// UnmarkMerged reverts MarkMerged: status back to ACTIVE, edge removed.
	UnmarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error

	// ResolveCanonicalID follows MERGED_INTO edges from id to the terminal
	// ACTIVE entity. A chain ending anywhere else is corrupted and surfaces
	// ErrCorruptMergeChain.
	ResolveCanonicalID(ctx context.Context, id uuid.UUID) (uuid.UUID, error)

	// SoftDelete stamps deletedAt; read paths exclude the entity afterward.
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error

	// PurgeSoftDeleted hard-deletes entities soft-deleted before cutoff,
	// including incident edges. Returns the number of entities removed.
	PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int, error)
}

// SynonymRepo manages Synonym nodes and their SYNONYM_OF edges.
type SynonymRepo interface {
	Create(ctx context.Context, s *model.Synonym) error
	Delete(ctx context.Context, id uuid.UUID) error

	// FindByNormalizedValue returns synonyms whose normalized value matches
	// and whose owning entity is ACTIVE and of the given type.
	FindByNormalizedValue(ctx context.Context, normalized string, t model.EntityType) ([]*model.Synonym, error)

	// ListByEntity returns all synonyms attached to an entity.
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Synonym, error)

	// Update persists confidence/support/lastConfirmed changes.
	Update(ctx context.Context, s *model.Synonym) error
}

// DuplicateRepo manages Duplicate records created during merges.
type DuplicateRepo interface {
	Create(ctx context.Context, d *model.Duplicate) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Duplicate, error)
}

// RewrittenEndpoint captures one relationship endpoint change so a failed
// merge can restore it.
type RewrittenEndpoint struct {
	RelationshipID uuid.UUID
	WasSource      bool
	PriorEntityID  uuid.UUID
}

// RelationshipRepo manages library-managed edges between entities.
type RelationshipRepo interface {
	Create(ctx context.Context, r *model.Relationship) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error)

	// RewriteEndpoints repoints every relationship touching fromID to toID
	// and returns the prior endpoints for compensation.
	RewriteEndpoints(ctx context.Context, fromID, toID uuid.UUID) ([]RewrittenEndpoint, error)

	// RestoreEndpoints reverts a prior RewriteEndpoints call.
	RestoreEndpoints(ctx context.Context, rewrites []RewrittenEndpoint) error
}

// DecisionRepo persists the immutable decision graph.
type DecisionRepo interface {
	CreateMatchDecision(ctx context.Context, d *model.MatchDecision) error

	// CreateReviewDecision persists the human verdict and links it to the
	// originating match decision when one is known.
	CreateReviewDecision(ctx context.Context, d *model.ReviewDecision, matchDecisionID *uuid.UUID) error

	ListMatchDecisionsByCandidate(ctx context.Context, candidateEntityID uuid.UUID) ([]*model.MatchDecision, error)
}

// ReviewRepo manages the human review queue.
type ReviewRepo interface {
	Create(ctx context.Context, item *model.ReviewItem) error
	Get(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error)
	ListPending(ctx context.Context, limit, offset int) ([]*model.ReviewItem, error)

	// Resolve transitions a PENDING item to APPROVED or REJECTED. A
	// non-pending item surfaces ErrReviewState.
	Resolve(ctx context.Context, id uuid.UUID, status model.ReviewStatus, reviewerID, notes string, at time.Time) (*model.ReviewItem, error)
}

// LedgerRepo is the append-only merge ledger.
type LedgerRepo interface {
	Append(ctx context.Context, rec *model.MergeRecord) error
	List(ctx context.Context, f model.MergeFilter) ([]*model.MergeRecord, error)

	// Chain returns every merge record reachable from the entity by
	// following source/target lineage recursively, oldest first.
	Chain(ctx context.Context, entityID uuid.UUID) ([]*model.MergeRecord, error)
}

// Repos bundles the repositories a pipeline needs.
type Repos struct {
	Entities      EntityRepo
	Synonyms      SynonymRepo
	Duplicates    DuplicateRepo
	Relationships RelationshipRepo
	Decisions     DecisionRepo
	Reviews       ReviewRepo
	Ledger        LedgerRepo
}
