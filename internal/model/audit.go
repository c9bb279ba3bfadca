package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the recordable state changes.
type AuditAction string

const (
	AuditEntityCreated   AuditAction = "ENTITY_CREATED"
	AuditEntityMerged    AuditAction = "ENTITY_MERGED"
	AuditEntityDeleted   AuditAction = "ENTITY_DELETED"
	AuditSynonymAdded    AuditAction = "SYNONYM_ADDED"
	AuditSynonymRemoved  AuditAction = "SYNONYM_REMOVED"
	AuditReviewSubmitted AuditAction = "REVIEW_SUBMITTED"
	AuditReviewApproved  AuditAction = "REVIEW_APPROVED"
	AuditReviewRejected  AuditAction = "REVIEW_REJECTED"
	AuditRelCreated      AuditAction = "RELATIONSHIP_CREATED"
	AuditRelDeleted      AuditAction = "RELATIONSHIP_DELETED"
	AuditRelRewritten    AuditAction = "RELATIONSHIP_REWRITTEN"
)

// AuditEntry is one append-only line in the audit trail.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	Action    AuditAction    `json:"action"`
	EntityID  uuid.UUID      `json:"entity_id"`
	ActorID   string         `json:"actor_id"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditFilter narrows audit queries. Zero values mean "any".
type AuditFilter struct {
	EntityID *uuid.UUID
	Action   AuditAction
	ActorID  string
	From     time.Time
	To       time.Time
}

// MergeFilter narrows merge-ledger queries. Zero values mean "any".
type MergeFilter struct {
	SourceEntityID *uuid.UUID
	TargetEntityID *uuid.UUID
	TriggeredBy    string
	Decision       string
	From           time.Time
	To             time.Time
}
