package musubi

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/cache"
	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/resolve"
)

// EntityType classifies entities; resolution never crosses types.
type EntityType string

// Common entity types. Any non-empty string is accepted; these are the
// conventional values.
const (
	Company EntityType = "COMPANY"
	Person  EntityType = "PERSON"
	Product EntityType = "PRODUCT"
	Other   EntityType = "OTHER"
)

// Outcome is a resolution verdict.
type Outcome string

const (
	AutoMerge   Outcome = "AUTO_MERGE"
	SynonymOnly Outcome = "SYNONYM_ONLY"
	Review      Outcome = "REVIEW"
	NoMatch     Outcome = "NO_MATCH"
)

// Entity is the public view of a canonical entity.
type Entity struct {
	ID              uuid.UUID  `json:"id"`
	CanonicalName   string     `json:"canonical_name"`
	NormalizedName  string     `json:"normalized_name"`
	Type            EntityType `json:"type"`
	ConfidenceScore float64    `json:"confidence_score"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Synonym is the public view of an alternate name.
type Synonym struct {
	ID              uuid.UUID `json:"id"`
	Value           string    `json:"value"`
	NormalizedValue string    `json:"normalized_value"`
	Source          string    `json:"source"`
	Confidence      float64   `json:"confidence"`
	SupportCount    int       `json:"support_count"`
	CreatedAt       time.Time `json:"created_at"`
	LastConfirmedAt time.Time `json:"last_confirmed_at"`
	EntityID        uuid.UUID `json:"entity_id"`
}

// Relationship is the public view of a library-managed edge.
type Relationship struct {
	ID             uuid.UUID      `json:"id"`
	SourceEntityID uuid.UUID      `json:"source_entity_id"`
	TargetEntityID uuid.UUID      `json:"target_entity_id"`
	Type           string         `json:"type"`
	Properties     map[string]any `json:"properties,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CreatedBy      string         `json:"created_by,omitempty"`
}

// ReviewItem is the public view of a queued human review.
type ReviewItem struct {
	ID                  uuid.UUID  `json:"id"`
	SourceEntityID      uuid.UUID  `json:"source_entity_id"`
	CandidateEntityID   uuid.UUID  `json:"candidate_entity_id"`
	SourceEntityName    string     `json:"source_entity_name"`
	CandidateEntityName string     `json:"candidate_entity_name"`
	EntityType          EntityType `json:"entity_type"`
	SimilarityScore     float64    `json:"similarity_score"`
	Status              string     `json:"status"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty"`
	ReviewerID          string     `json:"reviewer_id,omitempty"`
	Notes               string     `json:"notes,omitempty"`
}

// MergeRecord is one public entry of the append-only merge ledger.
type MergeRecord struct {
	ID               uuid.UUID `json:"id"`
	SourceEntityID   uuid.UUID `json:"source_entity_id"`
	TargetEntityID   uuid.UUID `json:"target_entity_id"`
	SourceEntityName string    `json:"source_entity_name"`
	TargetEntityName string    `json:"target_entity_name"`
	ConfidenceScore  float64   `json:"confidence_score"`
	Decision         string    `json:"decision"`
	TriggeredBy      string    `json:"triggered_by"`
	Reasoning        string    `json:"reasoning,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// AuditEntry is one public entry of the audit trail.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	Action    string         `json:"action"`
	EntityID  uuid.UUID      `json:"entity_id"`
	ActorID   string         `json:"actor_id"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Reference is a merge-safe handle: CurrentID re-resolves the canonical
// entity on every call, so it never returns an id that a merge retired.
type Reference struct {
	ref *model.EntityReference
}

// OriginalID returns the id the reference was created with.
func (r *Reference) OriginalID() uuid.UUID { return r.ref.OriginalID() }

// CurrentID returns the id of the ACTIVE entity this reference resolves to.
func (r *Reference) CurrentID(ctx context.Context) (uuid.UUID, error) {
	return r.ref.CurrentID(ctx)
}

// WasMerged reports whether the original entity has been merged away.
func (r *Reference) WasMerged(ctx context.Context) (bool, error) {
	return r.ref.WasMerged(ctx)
}

// ResolveResult is the outcome of one resolution.
type ResolveResult struct {
	Entity               *Entity    `json:"entity,omitempty"`
	IsNewEntity          bool       `json:"is_new_entity"`
	WasMatchedViaSynonym bool       `json:"was_matched_via_synonym"`
	WasNewSynonymCreated bool       `json:"was_new_synonym_created"`
	Decision             Outcome    `json:"decision"`
	Score                float64    `json:"score"`
	InputName            string     `json:"input_name"`
	MatchedName          string     `json:"matched_name"`
	SuggestedSynonyms    []string   `json:"suggested_synonyms,omitempty"`
	ReviewItemID         *uuid.UUID `json:"review_item_id,omitempty"`
	Reference            *Reference `json:"-"`
}

// AsyncResult delivers a ResolveAsync outcome.
type AsyncResult struct {
	Result *ResolveResult
	Err    error
}

// BatchResult summarizes a committed batch.
type BatchResult struct {
	TotalResolved        int      `json:"total_resolved"`
	NewEntitiesCreated   int      `json:"new_entities_created"`
	RelationshipsCreated int      `json:"relationships_created"`
	RelationshipErrors   []string `json:"relationship_errors,omitempty"`
}

// PoolStats mirrors the connection pool counters.
type PoolStats struct {
	Total    int   `json:"total"`
	Active   int   `json:"active"`
	Idle     int   `json:"idle"`
	Borrowed int64 `json:"borrowed"`
	Released int64 `json:"released"`
	Created  int64 `json:"created"`
}

// CacheStats mirrors the resolution cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// HealthStatus aggregates component liveness.
type HealthStatus struct {
	Healthy        bool       `json:"healthy"`
	StoreConnected bool       `json:"store_connected"`
	LLMAvailable   bool       `json:"llm_available"`
	Pool           PoolStats  `json:"pool"`
	Cache          CacheStats `json:"cache"`
	Version        string     `json:"version,omitempty"`
}

// --- conversions; this file is the only one that sees both sides ---

func toPublicEntity(e *model.Entity) *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		ID:              e.ID,
		CanonicalName:   e.CanonicalName,
		NormalizedName:  e.NormalizedName,
		Type:            EntityType(e.Type),
		ConfidenceScore: e.ConfidenceScore,
		Status:          string(e.Status),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toPublicSynonym(s *model.Synonym) *Synonym {
	return &Synonym{
		ID:              s.ID,
		Value:           s.Value,
		NormalizedValue: s.NormalizedValue,
		Source:          string(s.Source),
		Confidence:      s.Confidence,
		SupportCount:    s.SupportCount,
		CreatedAt:       s.CreatedAt,
		LastConfirmedAt: s.LastConfirmedAt,
		EntityID:        s.EntityID,
	}
}

func toPublicRelationship(r *model.Relationship) *Relationship {
	return &Relationship{
		ID:             r.ID,
		SourceEntityID: r.SourceEntityID,
		TargetEntityID: r.TargetEntityID,
		Type:           r.Type,
		Properties:     r.Properties,
		CreatedAt:      r.CreatedAt,
		CreatedBy:      r.CreatedBy,
	}
}

func toPublicReviewItem(item *model.ReviewItem) *ReviewItem {
	return &ReviewItem{
		ID:                  item.ID,
		SourceEntityID:      item.SourceEntityID,
		CandidateEntityID:   item.CandidateEntityID,
		SourceEntityName:    item.SourceEntityName,
		CandidateEntityName: item.CandidateEntityName,
		EntityType:          EntityType(item.EntityType),
		SimilarityScore:     item.SimilarityScore,
		Status:              string(item.Status),
		SubmittedAt:         item.SubmittedAt,
		ReviewedAt:          item.ReviewedAt,
		ReviewerID:          item.ReviewerID,
		Notes:               item.Notes,
	}
}

func toPublicResult(r *resolve.Result) *ResolveResult {
	out := &ResolveResult{
		Entity:               toPublicEntity(r.Entity),
		IsNewEntity:          r.IsNewEntity,
		WasMatchedViaSynonym: r.WasMatchedViaSynonym,
		WasNewSynonymCreated: r.WasNewSynonymCreated,
		Decision:             Outcome(r.Decision),
		Score:                r.Score,
		InputName:            r.InputName,
		MatchedName:          r.MatchedName,
		SuggestedSynonyms:    r.SuggestedSynonyms,
		ReviewItemID:         r.ReviewItemID,
	}
	if r.Reference != nil {
		out.Reference = &Reference{ref: r.Reference}
	}
	return out
}

func toPublicMergeRecord(r *model.MergeRecord) *MergeRecord {
	return &MergeRecord{
		ID:               r.ID,
		SourceEntityID:   r.SourceEntityID,
		TargetEntityID:   r.TargetEntityID,
		SourceEntityName: r.SourceEntityName,
		TargetEntityName: r.TargetEntityName,
		ConfidenceScore:  r.ConfidenceScore,
		Decision:         r.Decision,
		TriggeredBy:      r.TriggeredBy,
		Reasoning:        r.Reasoning,
		Timestamp:        r.Timestamp,
	}
}

func toPublicAuditEntry(e *model.AuditEntry) *AuditEntry {
	return &AuditEntry{
		ID:        e.ID,
		Action:    string(e.Action),
		EntityID:  e.EntityID,
		ActorID:   e.ActorID,
		Details:   e.Details,
		Timestamp: e.Timestamp,
	}
}

func toPublicPoolStats(s graph.PoolStats) PoolStats {
	return PoolStats{
		Total:    s.Total,
		Active:   s.Active,
		Idle:     s.Idle,
		Borrowed: s.Borrowed,
		Released: s.Released,
		Created:  s.Created,
	}
}

func toPublicCacheStats(s cache.Stats) CacheStats {
	return CacheStats{Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions, Size: s.Size}
}
