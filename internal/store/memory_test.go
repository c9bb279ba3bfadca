package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/blocking"
	"github.com/ashita-ai/musubi/internal/model"
)

func newEntity(name, normalized string, t model.EntityType) *model.Entity {
	now := time.Now().UTC()
	return &model.Entity{
		ID:              uuid.New(),
		CanonicalName:   name,
		NormalizedName:  normalized,
		Type:            t,
		ConfidenceScore: 1.0,
		Status:          model.EntityStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestMemory_EntityLifecycle(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	e := newEntity("Tesla, Inc.", "tesla", model.EntityTypeCompany)
	require.NoError(t, repos.Entities.Create(ctx, e, blocking.Keys("tesla")))

	got, err := repos.Entities.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "tesla", got.NormalizedName)

	found, err := repos.Entities.FindActiveByNormalized(ctx, "tesla", model.EntityTypeCompany)
	require.NoError(t, err)
	assert.Equal(t, e.ID, found.ID)

	_, err = repos.Entities.FindActiveByNormalized(ctx, "tesla", model.EntityTypeProduct)
	assert.ErrorIs(t, err, ErrNotFound, "identity is scoped by type")

	_, err = repos.Entities.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_CandidatesByBlockingKeys(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	a := newEntity("Acme Systems", "acme systems", model.EntityTypeCompany)
	b := newEntity("Acme Networks", "acme networks", model.EntityTypeCompany)
	c := newEntity("Zenith Corp", "zenith", model.EntityTypeCompany)
	p := newEntity("Acme Sprocket", "acme sprocket", model.EntityTypeProduct)
	for _, e := range []*model.Entity{a, b, c, p} {
		require.NoError(t, repos.Entities.Create(ctx, e, blocking.Keys(e.NormalizedName)))
	}

	got, err := repos.Entities.FindCandidatesByBlockingKeys(ctx, blocking.Keys("acme systemes"), model.EntityTypeCompany)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool)
	for _, e := range got {
		ids[e.ID] = true
	}
	assert.True(t, ids[a.ID], "shared pfx/bg keys must surface acme systems")
	assert.True(t, ids[b.ID], "shared pfx/bg keys must surface acme networks")
	assert.False(t, ids[c.ID])
	assert.False(t, ids[p.ID], "candidates never cross types")
}

func TestMemory_MergeChainResolution(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	a := newEntity("A", "a", model.EntityTypeCompany)
	b := newEntity("B", "b", model.EntityTypeCompany)
	c := newEntity("C", "c", model.EntityTypeCompany)
	for _, e := range []*model.Entity{a, b, c} {
		require.NoError(t, repos.Entities.Create(ctx, e, nil))
	}

	// a -> b -> c
	require.NoError(t, repos.Entities.MarkMerged(ctx, a.ID, b.ID))
	require.NoError(t, repos.Entities.MarkMerged(ctx, b.ID, c.ID))

	id, err := repos.Entities.ResolveCanonicalID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	id, err = repos.Entities.ResolveCanonicalID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id, "active entity resolves to itself")

	// Undo the second merge: chain now ends at b, which is ACTIVE again.
	require.NoError(t, repos.Entities.UnmarkMerged(ctx, b.ID, c.ID))
	id, err = repos.Entities.ResolveCanonicalID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
}

func TestMemory_CorruptMergeChain(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	repos := mem.Repos()

	a := newEntity("A", "a", model.EntityTypeCompany)
	require.NoError(t, repos.Entities.Create(ctx, a, nil))

	// A MERGED terminus with no outgoing edge is corrupted state.
	require.NoError(t, repos.Entities.MarkMerged(ctx, a.ID, uuid.New()))
	mem.mu.Lock()
	delete(mem.mergedInto, a.ID)
	mem.mu.Unlock()

	_, err := repos.Entities.ResolveCanonicalID(ctx, a.ID)
	assert.ErrorIs(t, err, ErrCorruptMergeChain)
}

func TestMemory_SoftDeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	e := newEntity("Old Co", "old", model.EntityTypeCompany)
	require.NoError(t, repos.Entities.Create(ctx, e, blocking.Keys("old")))

	deletedAt := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repos.Entities.SoftDelete(ctx, e.ID, deletedAt))

	_, err := repos.Entities.GetByID(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound, "soft-deleted entities leave read paths")
	_, err = repos.Entities.FindActiveByNormalized(ctx, "old", model.EntityTypeCompany)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := repos.Entities.PurgeSoftDeleted(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repos.Entities.PurgeSoftDeleted(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "purge is idempotent")
}

func TestMemory_SynonymsFilteredByActiveEntityAndType(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	company := newEntity("Tesla", "tesla", model.EntityTypeCompany)
	product := newEntity("Tesla Roadster", "tesla roadster", model.EntityTypeProduct)
	require.NoError(t, repos.Entities.Create(ctx, company, nil))
	require.NoError(t, repos.Entities.Create(ctx, product, nil))

	now := time.Now().UTC()
	syn := &model.Synonym{
		ID: uuid.New(), Value: "Tesla Motors", NormalizedValue: "tesla motors",
		Source: model.SynonymSourceSystem, Confidence: 0.9,
		CreatedAt: now, LastConfirmedAt: now, EntityID: company.ID,
	}
	require.NoError(t, repos.Synonyms.Create(ctx, syn))

	found, err := repos.Synonyms.FindByNormalizedValue(ctx, "tesla motors", model.EntityTypeCompany)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, company.ID, found[0].EntityID)

	found, err = repos.Synonyms.FindByNormalizedValue(ctx, "tesla motors", model.EntityTypeProduct)
	require.NoError(t, err)
	assert.Empty(t, found, "synonym lookup is type-scoped")

	// A merged owner drops out of synonym lookup.
	require.NoError(t, repos.Entities.MarkMerged(ctx, company.ID, product.ID))
	found, err = repos.Synonyms.FindByNormalizedValue(ctx, "tesla motors", model.EntityTypeCompany)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemory_SynonymUpdate(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	e := newEntity("Tesla", "tesla", model.EntityTypeCompany)
	require.NoError(t, repos.Entities.Create(ctx, e, nil))

	now := time.Now().UTC()
	syn := &model.Synonym{
		ID: uuid.New(), Value: "TSLA", NormalizedValue: "tsla",
		Source: model.SynonymSourceHuman, Confidence: 0.7, SupportCount: 1,
		CreatedAt: now, LastConfirmedAt: now, EntityID: e.ID,
	}
	require.NoError(t, repos.Synonyms.Create(ctx, syn))

	syn.SupportCount = 2
	syn.LastConfirmedAt = now.Add(time.Hour)
	require.NoError(t, repos.Synonyms.Update(ctx, syn))

	list, err := repos.Synonyms.ListByEntity(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].SupportCount)

	assert.ErrorIs(t, repos.Synonyms.Update(ctx, &model.Synonym{ID: uuid.New()}), ErrNotFound)
}

func TestMemory_RelationshipRewriteAndRestore(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	a := newEntity("A", "a", model.EntityTypeCompany)
	b := newEntity("B", "b", model.EntityTypeCompany)
	c := newEntity("C", "c", model.EntityTypeCompany)
	for _, e := range []*model.Entity{a, b, c} {
		require.NoError(t, repos.Entities.Create(ctx, e, nil))
	}

	out := &model.Relationship{ID: uuid.New(), SourceEntityID: a.ID, TargetEntityID: c.ID, Type: "SUPPLIES", CreatedAt: time.Now()}
	in := &model.Relationship{ID: uuid.New(), SourceEntityID: c.ID, TargetEntityID: a.ID, Type: "OWNS", CreatedAt: time.Now()}
	require.NoError(t, repos.Relationships.Create(ctx, out))
	require.NoError(t, repos.Relationships.Create(ctx, in))

	rewrites, err := repos.Relationships.RewriteEndpoints(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Len(t, rewrites, 2)

	rels, err := repos.Relationships.ListByEntity(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, rels, "no relationship may still reference the merged source")

	rels, err = repos.Relationships.ListByEntity(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 2)

	require.NoError(t, repos.Relationships.RestoreEndpoints(ctx, rewrites))
	rels, err = repos.Relationships.ListByEntity(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 2, "restore must reattach prior endpoints")
}

func TestMemory_ReviewResolveStateMachine(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	item := &model.ReviewItem{
		ID: uuid.New(), SourceEntityID: uuid.New(), CandidateEntityID: uuid.New(),
		SourceEntityName: "Acme Systemes", CandidateEntityName: "Acme Systems",
		EntityType: model.EntityTypeCompany, SimilarityScore: 0.74,
		Status: model.ReviewStatusPending, SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, repos.Reviews.Create(ctx, item))

	resolved, err := repos.Reviews.Resolve(ctx, item.ID, model.ReviewStatusApproved, "reviewer-1", "same org", time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.ReviewStatusApproved, resolved.Status)
	assert.NotNil(t, resolved.ReviewedAt)

	_, err = repos.Reviews.Resolve(ctx, item.ID, model.ReviewStatusRejected, "reviewer-2", "", time.Now())
	assert.ErrorIs(t, err, ErrReviewState, "resolving twice must fail")

	_, err = repos.Reviews.Resolve(ctx, uuid.New(), model.ReviewStatusApproved, "r", "", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReviewListPendingPagination(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	base := time.Now().UTC()
	for i := range 5 {
		require.NoError(t, repos.Reviews.Create(ctx, &model.ReviewItem{
			ID: uuid.New(), SourceEntityID: uuid.New(), CandidateEntityID: uuid.New(),
			EntityType: model.EntityTypeCompany, Status: model.ReviewStatusPending,
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := repos.Reviews.ListPending(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].SubmittedAt.Before(page[1].SubmittedAt), "ascending by submission")

	page, err = repos.Reviews.ListPending(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, err = repos.Reviews.ListPending(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemory_LedgerAppendListChain(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory().Repos()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	t0 := time.Now().UTC()
	r1 := &model.MergeRecord{ID: uuid.New(), SourceEntityID: a, TargetEntityID: b, Decision: "AUTO_MERGE", TriggeredBy: "system", Timestamp: t0}
	r2 := &model.MergeRecord{ID: uuid.New(), SourceEntityID: b, TargetEntityID: c, Decision: "MANUAL", TriggeredBy: "admin", Timestamp: t0.Add(time.Minute)}
	unrelated := &model.MergeRecord{ID: uuid.New(), SourceEntityID: uuid.New(), TargetEntityID: uuid.New(), Decision: "AUTO_MERGE", TriggeredBy: "system", Timestamp: t0}
	for _, r := range []*model.MergeRecord{r1, r2, unrelated} {
		require.NoError(t, repos.Ledger.Append(ctx, r))
	}

	bySource, err := repos.Ledger.List(ctx, model.MergeFilter{SourceEntityID: &a})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, r1.ID, bySource[0].ID)

	byActor, err := repos.Ledger.List(ctx, model.MergeFilter{TriggeredBy: "admin"})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, r2.ID, byActor[0].ID)

	inRange, err := repos.Ledger.List(ctx, model.MergeFilter{From: t0.Add(30 * time.Second), To: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, inRange, 1)
	assert.Equal(t, r2.ID, inRange[0].ID)

	// Chain from a reaches both merges transitively, never the unrelated one.
	chain, err := repos.Ledger.Chain(ctx, a)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, r1.ID, chain[0].ID, "oldest first")
	assert.Equal(t, r2.ID, chain[1].ID)
}
