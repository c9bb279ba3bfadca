// Package model defines the core domain types for Musubi.
//
// All types correspond directly to graph nodes and edges. Types use strong
// typing (UUIDs, time.Time, enums) and avoid interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityStatus represents the lifecycle state of an entity.
type EntityStatus string

const (
	EntityStatusActive EntityStatus = "ACTIVE"
	EntityStatusMerged EntityStatus = "MERGED"
)

// EntityType classifies entities; matching never crosses types.
type EntityType string

const (
	EntityTypeCompany EntityType = "COMPANY"
	EntityTypePerson  EntityType = "PERSON"
	EntityTypeProduct EntityType = "PRODUCT"
	EntityTypeOther   EntityType = "OTHER"
)

// Entity is a canonical named entity in the graph.
// Exactly one ACTIVE entity exists per (NormalizedName, Type) at any instant;
// a MERGED entity carries a single MERGED_INTO edge to its survivor.
type Entity struct {
	ID              uuid.UUID    `json:"id"`
	CanonicalName   string       `json:"canonical_name"`
	NormalizedName  string       `json:"normalized_name"`
	Type            EntityType   `json:"type"`
	ConfidenceScore float64      `json:"confidence_score"`
	Status          EntityStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty"`
}

// IsActive reports whether the entity is the live representative of its
// merge equivalence class.
func (e *Entity) IsActive() bool {
	return e.Status == EntityStatusActive && e.DeletedAt == nil
}

// SynonymSource identifies who attached a synonym.
type SynonymSource string

const (
	SynonymSourceSystem SynonymSource = "SYSTEM"
	SynonymSourceHuman  SynonymSource = "HUMAN"
	SynonymSourceLLM    SynonymSource = "LLM"
)

// Synonym is an alternate name attached to exactly one ACTIVE entity.
// SupportCount only ever grows; negative reinforcement lowers Confidence
// without touching the count.
type Synonym struct {
	ID              uuid.UUID     `json:"id"`
	Value           string        `json:"value"`
	NormalizedValue string        `json:"normalized_value"`
	Source          SynonymSource `json:"source"`
	Confidence      float64       `json:"confidence"`
	SupportCount    int           `json:"support_count"`
	CreatedAt       time.Time     `json:"created_at"`
	LastConfirmedAt time.Time     `json:"last_confirmed_at"`
	EntityID        uuid.UUID     `json:"entity_id"`
}

// Duplicate preserves the pre-merge identity of a merged entity's source name.
type Duplicate struct {
	ID             uuid.UUID `json:"id"`
	OriginalName   string    `json:"original_name"`
	NormalizedName string    `json:"normalized_name"`
	SourceSystem   string    `json:"source_system,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	EntityID       uuid.UUID `json:"entity_id"`
}

// Relationship is a library-managed edge between two entities. On merge of
// either endpoint the edge is rewritten to the canonical endpoint.
type Relationship struct {
	ID             uuid.UUID      `json:"id"`
	SourceEntityID uuid.UUID      `json:"source_entity_id"`
	TargetEntityID uuid.UUID      `json:"target_entity_id"`
	Type           string         `json:"type"`
	Properties     map[string]any `json:"properties,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CreatedBy      string         `json:"created_by,omitempty"`
}
