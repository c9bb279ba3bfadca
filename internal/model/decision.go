package model

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the verdict of a resolution pass.
type Outcome string

const (
	OutcomeAutoMerge   Outcome = "AUTO_MERGE"
	OutcomeSynonymOnly Outcome = "SYNONYM_ONLY"
	OutcomeReview      Outcome = "REVIEW"
	OutcomeNoMatch     Outcome = "NO_MATCH"
)

// MatchDecision is the immutable provenance node for an automated match
// verdict. Every subscore and threshold in force at decision time is
// recorded so the verdict can be re-derived later. Never updated.
type MatchDecision struct {
	ID                 uuid.UUID  `json:"id"`
	InputEntityTempID  string     `json:"input_entity_temp_id"`
	CandidateEntityID  *uuid.UUID `json:"candidate_entity_id,omitempty"`
	EntityType         EntityType `json:"entity_type"`
	LevenshteinScore   float64    `json:"levenshtein_score"`
	JaroWinklerScore   float64    `json:"jaro_winkler_score"`
	JaccardScore       float64    `json:"jaccard_score"`
	FinalScore         float64    `json:"final_score"`
	AutoMergeThreshold float64    `json:"auto_merge_threshold"`
	SynonymThreshold   float64    `json:"synonym_threshold"`
	ReviewThreshold    float64    `json:"review_threshold"`
	Outcome            Outcome    `json:"outcome"`
	Evaluator          string     `json:"evaluator"`
	Timestamp          time.Time  `json:"timestamp"`
}

// ReviewAction is a human verdict on a review item.
type ReviewAction string

const (
	ReviewActionApprove ReviewAction = "APPROVE"
	ReviewActionReject  ReviewAction = "REJECT"
)

// ReviewDecision is the immutable record of a human review verdict,
// linked to its originating MatchDecision via RESULTED_IN.
type ReviewDecision struct {
	ID         uuid.UUID    `json:"id"`
	ReviewID   uuid.UUID    `json:"review_id"`
	Action     ReviewAction `json:"action"`
	ReviewerID string       `json:"reviewer_id"`
	Rationale  string       `json:"rationale,omitempty"`
	DecidedAt  time.Time    `json:"decided_at"`
}

// ReviewStatus is the lifecycle state of a queued review item.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "PENDING"
	ReviewStatusApproved ReviewStatus = "APPROVED"
	ReviewStatusRejected ReviewStatus = "REJECTED"
)

// ReviewItem pairs a newly observed entity with its closest candidate for
// human adjudication.
type ReviewItem struct {
	ID                  uuid.UUID    `json:"id"`
	SourceEntityID      uuid.UUID    `json:"source_entity_id"`
	CandidateEntityID   uuid.UUID    `json:"candidate_entity_id"`
	SourceEntityName    string       `json:"source_entity_name"`
	CandidateEntityName string       `json:"candidate_entity_name"`
	EntityType          EntityType   `json:"entity_type"`
	SimilarityScore     float64      `json:"similarity_score"`
	Status              ReviewStatus `json:"status"`
	SubmittedAt         time.Time    `json:"submitted_at"`
	ReviewedAt          *time.Time   `json:"reviewed_at,omitempty"`
	ReviewerID          string       `json:"reviewer_id,omitempty"`
	Notes               string       `json:"notes,omitempty"`
}

// MergeRecord is one append-only entry in the merge ledger.
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
