package store_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/blocking"
	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/store"
	"github.com/ashita-ai/musubi/internal/testutil"
)

var (
	testStore *graph.Neo4jStore
	testRepos store.Repos
)

func TestMain(m *testing.M) {
	if !testutil.Enabled() {
		os.Exit(m.Run()) // every integration test skips itself
	}
	tc := testutil.MustStartNeo4j()
	defer tc.Terminate()

	ctx := context.Background()
	var err error
	testStore, err = tc.NewStore(ctx, slog.Default())
	if err != nil {
		tc.Terminate()
		os.Exit(1)
	}
	pool, err := graph.NewPool(ctx, graph.DefaultPoolConfig(), graph.SharedHandleFactory(testStore))
	if err != nil {
		tc.Terminate()
		os.Exit(1)
	}
	testRepos = store.NewGraphRepos(pool)

	code := m.Run()
	pool.Close(ctx)
	_ = testStore.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func skipUnlessEnabled(t *testing.T) {
	t.Helper()
	if !testutil.Enabled() {
		t.Skip("set MUSUBI_TEST_NEO4J=1 to run neo4j integration tests")
	}
}

func TestGraphEntityRoundTrip(t *testing.T) {
	skipUnlessEnabled(t)
	ctx := context.Background()

	now := time.Now().UTC()
	e := &model.Entity{
		ID: uuid.New(), CanonicalName: "Tesla, Inc.", NormalizedName: "tesla",
		Type: model.EntityTypeCompany, ConfidenceScore: 1.0,
		Status: model.EntityStatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, testRepos.Entities.Create(ctx, e, blocking.Keys("tesla")))

	got, err := testRepos.Entities.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.CanonicalName, got.CanonicalName)
	assert.Equal(t, e.NormalizedName, got.NormalizedName)
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)

	found, err := testRepos.Entities.FindActiveByNormalized(ctx, "tesla", model.EntityTypeCompany)
	require.NoError(t, err)
	assert.Equal(t, e.ID, found.ID)

	candidates, err := testRepos.Entities.FindCandidatesByBlockingKeys(ctx, blocking.Keys("tesle"), model.EntityTypeCompany)
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, c := range candidates {
		ids[c.ID] = true
	}
	assert.True(t, ids[e.ID], "shared pfx/bg blocking keys must surface the entity")
}

func TestGraphMergeChain(t *testing.T) {
	skipUnlessEnabled(t)
	ctx := context.Background()

	mk := func(name, normalized string) *model.Entity {
		now := time.Now().UTC()
		e := &model.Entity{
			ID: uuid.New(), CanonicalName: name, NormalizedName: normalized,
			Type: model.EntityTypeCompany, ConfidenceScore: 1.0,
			Status: model.EntityStatusActive, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, testRepos.Entities.Create(ctx, e, nil))
		return e
	}
	a := mk("Chain A", "chain a")
	b := mk("Chain B", "chain b")
	c := mk("Chain C", "chain c")

	require.NoError(t, testRepos.Entities.MarkMerged(ctx, a.ID, b.ID))
	require.NoError(t, testRepos.Entities.MarkMerged(ctx, b.ID, c.ID))

	id, err := testRepos.Entities.ResolveCanonicalID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	require.NoError(t, testRepos.Entities.UnmarkMerged(ctx, b.ID, c.ID))
	id, err = testRepos.Entities.ResolveCanonicalID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
}

func TestGraphSynonymLookup(t *testing.T) {
	skipUnlessEnabled(t)
	ctx := context.Background()

	now := time.Now().UTC()
	e := &model.Entity{
		ID: uuid.New(), CanonicalName: "Synonym Host", NormalizedName: "synonym host",
		Type: model.EntityTypeCompany, ConfidenceScore: 1.0,
		Status: model.EntityStatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, testRepos.Entities.Create(ctx, e, nil))

	syn := &model.Synonym{
		ID: uuid.New(), Value: "Syn Host Ltd", NormalizedValue: "syn host",
		Source: model.SynonymSourceSystem, Confidence: 0.9, SupportCount: 1,
		CreatedAt: now, LastConfirmedAt: now, EntityID: e.ID,
	}
	require.NoError(t, testRepos.Synonyms.Create(ctx, syn))

	found, err := testRepos.Synonyms.FindByNormalizedValue(ctx, "syn host", model.EntityTypeCompany)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, e.ID, found[0].EntityID)
	assert.Equal(t, 1, found[0].SupportCount)

	found[0].SupportCount = 2
	found[0].LastConfirmedAt = now.Add(time.Hour)
	require.NoError(t, testRepos.Synonyms.Update(ctx, found[0]))

	again, err := testRepos.Synonyms.ListByEntity(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].SupportCount)
}

func TestGraphRelationshipRewrite(t *testing.T) {
	skipUnlessEnabled(t)
	ctx := context.Background()

	mk := func(name string) *model.Entity {
		now := time.Now().UTC()
		e := &model.Entity{
			ID: uuid.New(), CanonicalName: name, NormalizedName: name,
			Type: model.EntityTypeCompany, ConfidenceScore: 1.0,
			Status: model.EntityStatusActive, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, testRepos.Entities.Create(ctx, e, nil))
		return e
	}
	src := mk("rw src")
	dst := mk("rw dst")
	other := mk("rw other")

	rel := &model.Relationship{
		ID: uuid.New(), SourceEntityID: src.ID, TargetEntityID: other.ID,
		Type: "SUPPLIES", Properties: map[string]any{"since": "2020"},
		CreatedAt: time.Now().UTC(), CreatedBy: "it",
	}
	require.NoError(t, testRepos.Relationships.Create(ctx, rel))

	rewrites, err := testRepos.Relationships.RewriteEndpoints(ctx, src.ID, dst.ID)
	require.NoError(t, err)
	require.Len(t, rewrites, 1)

	rels, err := testRepos.Relationships.ListByEntity(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	rels, err = testRepos.Relationships.ListByEntity(ctx, dst.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "2020", rels[0].Properties["since"])

	require.NoError(t, testRepos.Relationships.RestoreEndpoints(ctx, rewrites))
	rels, err = testRepos.Relationships.ListByEntity(ctx, src.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestGraphStoreSanitizationEnforced(t *testing.T) {
	skipUnlessEnabled(t)
	ctx := context.Background()

	err := testStore.Execute(ctx, `CREATE (x:Junk {v: $v})`, map[string]any{
		"v": map[string]any{"nested": true},
	})
	assert.Error(t, err, "map parameters must be refused before reaching the store")
}
