package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/store"
)

func TestBatch_DedupsCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, nil)
	b := NewBatch(f.p)

	r1, err := b.Resolve(ctx, "Company A", model.EntityTypeCompany)
	require.NoError(t, err)
	r2, err := b.Resolve(ctx, "COMPANY A", model.EntityTypeCompany)
	require.NoError(t, err)
	r3, err := b.Resolve(ctx, "Company a", model.EntityTypeCompany)
	require.NoError(t, err)

	assert.True(t, r1.IsNewEntity)
	assert.False(t, r2.IsNewEntity)
	assert.False(t, r3.IsNewEntity)
	assert.Equal(t, r1.Entity.ID, r2.Entity.ID)
	assert.Equal(t, r1.Entity.ID, r3.Entity.ID)

	res, err := b.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalResolved)
	assert.Equal(t, 1, res.NewEntitiesCreated)
}

func TestBatch_SizeCapCountsNewEntriesOnly(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, func(o *Options) { o.MaxBatchSize = 2 })
	b := NewBatch(f.p)

	_, err := b.Resolve(ctx, "Alpha Co", model.EntityTypeCompany)
	require.NoError(t, err)
	_, err = b.Resolve(ctx, "Beta Co", model.EntityTypeCompany)
	require.NoError(t, err)

	// Duplicates bypass the cap.
	_, err = b.Resolve(ctx, "ALPHA CO", model.EntityTypeCompany)
	require.NoError(t, err)

	_, err = b.Resolve(ctx, "Gamma Co", model.EntityTypeCompany)
	assert.ErrorIs(t, err, ErrBatchSizeExceeded)
}

func TestBatch_CommitCreatesDeferredRelationships(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, nil)
	b := NewBatch(f.p)

	a, err := b.Resolve(ctx, "Alpha Co", model.EntityTypeCompany)
	require.NoError(t, err)
	c, err := b.Resolve(ctx, "Beta Co", model.EntityTypeCompany)
	require.NoError(t, err)

	require.NoError(t, b.DeferRelationship(DeferredRelationship{
		SourceEntityID: a.Entity.ID,
		TargetEntityID: c.Entity.ID,
		Type:           "SUPPLIES",
		CreatedBy:      "batch-test",
	}))

	// Nothing exists before commit.
	rels, err := f.repos.Relationships.ListByEntity(ctx, a.Entity.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	res, err := b.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RelationshipsCreated)
	assert.Empty(t, res.RelationshipErrors)

	rels, err = f.repos.Relationships.ListByEntity(ctx, a.Entity.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "SUPPLIES", rels[0].Type)
}

func TestBatch_RelationshipFailureDoesNotAbortOthers(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, nil)
	b := NewBatch(f.p)

	a, err := b.Resolve(ctx, "Alpha Co", model.EntityTypeCompany)
	require.NoError(t, err)
	c, err := b.Resolve(ctx, "Beta Co", model.EntityTypeCompany)
	require.NoError(t, err)

	// One endpoint that does not exist, one valid pair.
	require.NoError(t, b.DeferRelationship(DeferredRelationship{
		SourceEntityID: a.Entity.ID, TargetEntityID: uuid.New(), Type: "BROKEN",
	}))
	require.NoError(t, b.DeferRelationship(DeferredRelationship{
		SourceEntityID: a.Entity.ID, TargetEntityID: c.Entity.ID, Type: "SUPPLIES",
	}))

	res, err := b.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RelationshipsCreated)
	require.Len(t, res.RelationshipErrors, 1)
	assert.True(t, errors.Is(res.RelationshipErrors[0].Err, store.ErrNotFound))
	assert.Equal(t, "BROKEN", res.RelationshipErrors[0].Relationship.Type)
}

func TestBatch_DeferValidatesRelationshipType(t *testing.T) {
	f := newPipeline(t, nil)
	b := NewBatch(f.p)

	err := b.DeferRelationship(DeferredRelationship{
		SourceEntityID: uuid.New(), TargetEntityID: uuid.New(), Type: "not valid!",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBatch_RollbackDropsDeferred(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, nil)
	b := NewBatch(f.p)

	a, err := b.Resolve(ctx, "Alpha Co", model.EntityTypeCompany)
	require.NoError(t, err)
	c, err := b.Resolve(ctx, "Beta Co", model.EntityTypeCompany)
	require.NoError(t, err)
	require.NoError(t, b.DeferRelationship(DeferredRelationship{
		SourceEntityID: a.Entity.ID, TargetEntityID: c.Entity.ID, Type: "SUPPLIES",
	}))

	b.Rollback()

	_, err = b.Resolve(ctx, "Gamma Co", model.EntityTypeCompany)
	assert.ErrorIs(t, err, ErrBatchClosed)
	_, err = b.Commit(ctx)
	assert.ErrorIs(t, err, ErrBatchClosed)

	// Entity resolutions stay durable; the deferred relationship is gone.
	_, err = f.repos.Entities.GetByID(ctx, a.Entity.ID)
	assert.NoError(t, err)
	rels, err := f.repos.Relationships.ListByEntity(ctx, a.Entity.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestBatch_CloseAutoCommits(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, nil)
	b := NewBatch(f.p)

	a, err := b.Resolve(ctx, "Alpha Co", model.EntityTypeCompany)
	require.NoError(t, err)
	c, err := b.Resolve(ctx, "Beta Co", model.EntityTypeCompany)
	require.NoError(t, err)
	require.NoError(t, b.DeferRelationship(DeferredRelationship{
		SourceEntityID: a.Entity.ID, TargetEntityID: c.Entity.ID, Type: "SUPPLIES",
	}))

	require.NoError(t, b.Close(ctx))

	rels, err := f.repos.Relationships.ListByEntity(ctx, a.Entity.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	// Close after commit is a no-op.
	assert.NoError(t, b.Close(ctx))
}

func TestBatch_MemoryWarningFiresOnce(t *testing.T) {
	ctx := context.Background()
	f := newPipeline(t, func(o *Options) {
		// Tiny ceiling: the first entry crosses 80%.
		o.MaxBatchMemoryBytes = 300
	})
	b := NewBatch(f.p)

	_, err := b.Resolve(ctx, "Alpha Co", model.EntityTypeCompany)
	require.NoError(t, err)
	assert.True(t, b.warned)

	_, err = b.Resolve(ctx, "Beta Co", model.EntityTypeCompany)
	require.NoError(t, err)
	assert.True(t, b.warned)
}
