package model

import (
	"context"

	"github.com/google/uuid"
)

// CanonicalResolver walks the MERGED_INTO chain for an entity id and returns
// the terminal ACTIVE id. Implemented by the entity repository.
type CanonicalResolver interface {
	ResolveCanonicalID(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

// EntityReference is an opaque handle to an entity that survives merges.
// CurrentID re-walks the merge chain on every call; it never caches a
// canonical id across a merge.
type EntityReference struct {
	originalID uuid.UUID
	entityType EntityType
	resolver   CanonicalResolver
}

// NewEntityReference creates a reference for the given entity id.
func NewEntityReference(id uuid.UUID, t EntityType, r CanonicalResolver) *EntityReference {
	return &EntityReference{originalID: id, entityType: t, resolver: r}
}

// OriginalID returns the id the reference was created with.
func (r *EntityReference) OriginalID() uuid.UUID { return r.originalID }

// Type returns the entity type the reference was created with.
func (r *EntityReference) Type() EntityType { return r.entityType }

// CurrentID returns the id of the ACTIVE entity the original id currently
// resolves to, following MERGED_INTO edges.
func (r *EntityReference) CurrentID(ctx context.Context) (uuid.UUID, error) {
	return r.resolver.ResolveCanonicalID(ctx, r.originalID)
}

// WasMerged reports whether the original entity has been merged away.
func (r *EntityReference) WasMerged(ctx context.Context) (bool, error) {
	current, err := r.resolver.ResolveCanonicalID(ctx, r.originalID)
	if err != nil {
		return false, err
	}
	return current != r.originalID, nil
}
