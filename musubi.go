// Package musubi is the public API for embedding the Musubi entity
// resolution engine.
//
// Consumers construct an Engine and resolve names against the graph:
//
//	eng, err := musubi.New(
//	    musubi.WithLogger(logger),
//	    musubi.WithVersion(version),
//	)
//	if err != nil { ... }
//	defer eng.Close(ctx)
//	res, err := eng.Resolve(ctx, "Tesla, Inc.", musubi.Company)
//
// The import graph enforces a strict no-cycle rule: musubi (root) imports
// internal/*, but internal/* never imports musubi (root). Public types are
// standalone structs; conversion helpers live in types.go because the root
// is the only package that sees both sides of the boundary.
package musubi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/musubi/internal/audit"
	"github.com/ashita-ai/musubi/internal/cache"
	"github.com/ashita-ai/musubi/internal/config"
	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/llm"
	"github.com/ashita-ai/musubi/internal/lock"
	"github.com/ashita-ai/musubi/internal/merge"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/normalize"
	"github.com/ashita-ai/musubi/internal/resolve"
	"github.com/ashita-ai/musubi/internal/store"
	"github.com/ashita-ai/musubi/internal/telemetry"
)

// ErrNotFound is returned by lookups with no match.
var ErrNotFound = errors.New("musubi: not found")

// Engine is the entity resolution engine lifecycle. Construct with New(),
// release with Close(). Engine has no public fields — use New() options.
type Engine struct {
	cfg          config.Config
	graphStore   graph.Store // nil in memory mode
	pool         *graph.Pool // nil in memory mode
	repos        store.Repos
	locker       lock.Locker
	resolveCache cache.ResolutionCache[*resolve.Result]
	merger       *merge.Engine
	auditor      *audit.Service
	auditStore   audit.Store
	provider     llm.Provider
	pipeline     *resolve.Pipeline
	normalizer   *normalize.Normalizer
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// cacheListener invalidates both sides of a merge in the resolution cache.
type cacheListener struct {
	c cache.ResolutionCache[*resolve.Result]
}

func (l cacheListener) OnMerge(sourceID, targetID uuid.UUID) {
	l.c.InvalidateEntity(sourceID)
	l.c.InvalidateEntity(targetID)
}

// New initialises the engine: it loads configuration, connects the graph
// store (unless a store is injected or memory mode is chosen), creates
// indexes, and wires every subsystem. It starts no background work beyond
// the cache sweep.
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.auditBackend != "" {
		cfg.AuditBackend = o.auditBackend
	}

	ctx := context.Background()
	eng := &Engine{cfg: cfg, logger: logger, version: o.version}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, o.version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	eng.otelShutdown = otelShutdown

	if err := eng.initStore(ctx, &o); err != nil {
		return nil, err
	}
	if err := eng.initComponents(&o); err != nil {
		eng.closeStore(ctx)
		return nil, err
	}
	return eng, nil
}

func (e *Engine) initStore(ctx context.Context, o *resolvedOptions) error {
	if o.memoryStore {
		if o.crossProcessLock {
			return errors.New("musubi: cross-process lock requires a graph store")
		}
		e.repos = store.NewMemory().Repos()
		return nil
	}

	var gs graph.Store
	if o.graphStore != nil {
		gs = o.graphStore
	} else {
		s, err := graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
			URI:      e.cfg.GraphURI,
			Username: e.cfg.GraphUsername,
			Password: e.cfg.GraphPassword,
			Database: e.cfg.GraphDatabase,
		}, e.logger)
		if err != nil {
			return fmt.Errorf("connect graph store: %w", err)
		}
		gs = s
	}
	if err := gs.CreateIndexes(ctx); err != nil {
		_ = gs.Close(ctx)
		return fmt.Errorf("create indexes: %w", err)
	}

	pool, err := graph.NewPool(ctx, graph.PoolConfig{
		MaxTotal:     e.cfg.PoolMaxTotal,
		MaxIdle:      e.cfg.PoolMaxIdle,
		MinIdle:      e.cfg.PoolMinIdle,
		MaxWait:      e.cfg.PoolMaxWait,
		TestOnBorrow: true,
	}, graph.SharedHandleFactory(gs))
	if err != nil {
		_ = gs.Close(ctx)
		return fmt.Errorf("create pool: %w", err)
	}

	e.graphStore = gs
	e.pool = pool
	e.repos = store.NewGraphRepos(pool)
	return nil
}

func (e *Engine) initComponents(o *resolvedOptions) error {
	// Identity lock.
	if o.crossProcessLock {
		e.locker = lock.NewGraphLock(e.graphStore, lock.GraphLockConfig{
			TTL:        e.cfg.LockTTL,
			MaxRetries: e.cfg.LockMaxRetries,
			RetryDelay: e.cfg.LockRetryDelay,
		}, e.logger)
	} else {
		e.locker = lock.NewInProcess()
	}

	// Resolution cache.
	if o.cacheDisabled || !e.cfg.CacheEnabled {
		e.resolveCache = cache.Noop[*resolve.Result]{}
	} else {
		e.resolveCache = cache.New[*resolve.Result](cache.Config{
			MaxEntries:    e.cfg.CacheMaxEntries,
			TTL:           e.cfg.CacheTTL,
			SweepInterval: e.cfg.CacheSweepInterval,
		})
	}

	// Audit trail.
	auditStore, err := e.buildAuditStore()
	if err != nil {
		return err
	}
	e.auditStore = auditStore
	e.auditor = audit.NewService(auditStore, e.logger)

	// Merge engine, with the cache listening for invalidation.
	e.merger = merge.NewEngine(e.repos, e.auditor, e.locker, e.logger)
	e.merger.AddListener(cacheListener{c: e.resolveCache})

	// LLM provider.
	if o.provider != nil {
		e.provider = providerAdapter{p: o.provider}
	} else {
		e.provider = llm.NoopProvider{}
	}

	// Pipeline.
	e.normalizer = normalize.New(normalize.BuiltinRules())
	pipelineOpts := e.pipelineOptions(o)
	pipeline, err := resolve.New(resolve.Deps{
		Repos:      e.repos,
		Normalizer: e.normalizer,
		Locker:     e.locker,
		Cache:      e.resolveCache,
		Merger:     e.merger,
		Provider:   e.provider,
		Auditor:    e.auditor,
		Logger:     e.logger,
	}, pipelineOpts)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	e.pipeline = pipeline
	return nil
}

func (e *Engine) buildAuditStore() (audit.Store, error) {
	switch e.cfg.AuditBackend {
	case "memory":
		return audit.NewMemoryStore(), nil
	case "sqlite":
		s, err := audit.NewSQLiteStore(e.cfg.AuditSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		return s, nil
	case "graph":
		if e.pool == nil {
			// Memory mode has no graph to write to; keep the trail local.
			return audit.NewMemoryStore(), nil
		}
		return audit.NewGraphStore(e.pool), nil
	default:
		return nil, fmt.Errorf("musubi: unknown audit backend %q", e.cfg.AuditBackend)
	}
}

// pipelineOptions folds config defaults with the option override.
func (e *Engine) pipelineOptions(o *resolvedOptions) resolve.Options {
	opts := resolve.DefaultOptions()
	opts.AutoMergeThreshold = e.cfg.AutoMergeThreshold
	opts.SynonymThreshold = e.cfg.SynonymThreshold
	opts.ReviewThreshold = e.cfg.ReviewThreshold
	opts.AutoMergeEnabled = e.cfg.AutoMergeEnabled
	opts.UseLLM = e.cfg.UseLLM
	opts.LLMConfidenceThreshold = e.cfg.LLMConfidenceThreshold
	opts.SourceSystem = e.cfg.SourceSystem
	opts.LockTimeout = e.cfg.LockTimeout
	opts.MaxBatchSize = e.cfg.MaxBatchSize
	opts.MaxBatchMemoryBytes = int64(e.cfg.MaxBatchMemoryBytes)
	opts.BatchCommitChunkSize = e.cfg.BatchCommitChunkSize
	opts.DecayLambda = e.cfg.DecayLambda

	r := o.resolveOpts
	if r == nil {
		return opts
	}
	if r.AutoMergeThreshold > 0 {
		opts.AutoMergeThreshold = r.AutoMergeThreshold
	}
	if r.SynonymThreshold > 0 {
		opts.SynonymThreshold = r.SynonymThreshold
	}
	if r.ReviewThreshold > 0 {
		opts.ReviewThreshold = r.ReviewThreshold
	}
	opts.AutoMergeEnabled = opts.AutoMergeEnabled && !r.AutoMergeDisabled
	opts.UseLLM = opts.UseLLM || r.UseLLM
	if r.LLMConfidenceThreshold > 0 {
		opts.LLMConfidenceThreshold = r.LLMConfidenceThreshold
	}
	if r.SourceSystem != "" {
		opts.SourceSystem = r.SourceSystem
	}
	if r.Evaluator != "" {
		opts.Evaluator = r.Evaluator
	}
	if r.LockTimeout > 0 {
		opts.LockTimeout = r.LockTimeout
	}
	if r.ScanLimit > 0 {
		opts.ScanLimit = r.ScanLimit
	}
	if r.MaxBatchSize > 0 {
		opts.MaxBatchSize = r.MaxBatchSize
	}
	if r.MaxBatchMemoryBytes > 0 {
		opts.MaxBatchMemoryBytes = r.MaxBatchMemoryBytes
	}
	if r.BatchCommitChunkSize > 0 {
		opts.BatchCommitChunkSize = r.BatchCommitChunkSize
	}
	if r.DecayLambda > 0 {
		opts.DecayLambda = r.DecayLambda
	}
	opts.HoldEntityOnReview = r.HoldEntityOnReview
	return opts
}

// Resolve deduplicates one (name, type) pair against the graph.
func (e *Engine) Resolve(ctx context.Context, name string, t EntityType) (*ResolveResult, error) {
	result, err := e.pipeline.Resolve(ctx, name, entityType(t))
	if err != nil {
		return nil, err
	}
	return toPublicResult(result), nil
}

// ResolveAsync runs Resolve on a fresh goroutine with a per-call timeout
// and delivers the outcome on the returned channel. The channel is
// buffered; the result is never dropped.
func (e *Engine) ResolveAsync(ctx context.Context, name string, t EntityType, timeout time.Duration) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := e.Resolve(callCtx, name, t)
		out <- AsyncResult{Result: res, Err: err}
	}()
	return out
}

// FindEntity is the read-only lookup: exact identity first, then synonym.
// It never creates anything and takes no locks.
func (e *Engine) FindEntity(ctx context.Context, name string, t EntityType) (*Entity, error) {
	normalized := e.normalizer.Normalize(name, entityType(t))
	if normalized == "" {
		return nil, resolve.ErrInvalidInput
	}
	entity, err := e.repos.Entities.FindActiveByNormalized(ctx, normalized, entityType(t))
	if err == nil {
		return toPublicEntity(entity), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	syns, err := e.repos.Synonyms.FindByNormalizedValue(ctx, normalized, entityType(t))
	if err != nil {
		return nil, err
	}
	if len(syns) == 0 {
		return nil, ErrNotFound
	}
	entity, err = e.repos.Entities.GetByID(ctx, syns[0].EntityID)
	if err != nil {
		return nil, err
	}
	return toPublicEntity(entity), nil
}

// GetEntity returns an entity by id.
func (e *Engine) GetEntity(ctx context.Context, id uuid.UUID) (*Entity, error) {
	entity, err := e.repos.Entities.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toPublicEntity(entity), nil
}

// GetCanonicalEntity follows the MERGED_INTO chain from id and returns the
// terminal ACTIVE entity.
func (e *Engine) GetCanonicalEntity(ctx context.Context, id uuid.UUID) (*Entity, error) {
	canonical, err := e.repos.Entities.ResolveCanonicalID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.GetEntity(ctx, canonical)
}

// GetSynonyms lists the synonyms attached to an entity.
func (e *Engine) GetSynonyms(ctx context.Context, entityID uuid.UUID) ([]*Synonym, error) {
	syns, err := e.repos.Synonyms.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]*Synonym, len(syns))
	for i, s := range syns {
		out[i] = toPublicSynonym(s)
	}
	return out, nil
}

// AddSynonym attaches a human-curated synonym to an entity.
func (e *Engine) AddSynonym(ctx context.Context, entityID uuid.UUID, value string, confidence float64) (*Synonym, error) {
	if err := resolve.ValidateName(value); err != nil {
		return nil, err
	}
	entity, err := e.repos.Entities.GetByID(ctx, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	normalized := e.normalizer.Normalize(value, entity.Type)
	if normalized == "" {
		return nil, resolve.ErrInvalidInput
	}
	now := time.Now().UTC()
	syn := &model.Synonym{
		ID:              uuid.New(),
		Value:           value,
		NormalizedValue: normalized,
		Source:          model.SynonymSourceHuman,
		Confidence:      confidence,
		SupportCount:    1,
		CreatedAt:       now,
		LastConfirmedAt: now,
		EntityID:        entityID,
	}
	if err := e.repos.Synonyms.Create(ctx, syn); err != nil {
		return nil, err
	}
	e.auditor.Record(ctx, model.AuditSynonymAdded, entityID, "api", map[string]any{
		"value": value, "source": string(model.SynonymSourceHuman),
	})
	return toPublicSynonym(syn), nil
}

// CreateRelationship links two entities with a typed edge.
func (e *Engine) CreateRelationship(ctx context.Context, sourceID, targetID uuid.UUID, relType string, properties map[string]any, createdBy string) (*Relationship, error) {
	if err := resolve.ValidateRelationshipType(relType); err != nil {
		return nil, err
	}
	rel := &model.Relationship{
		ID:             uuid.New(),
		SourceEntityID: sourceID,
		TargetEntityID: targetID,
		Type:           relType,
		Properties:     properties,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      createdBy,
	}
	if err := e.repos.Relationships.Create(ctx, rel); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.auditor.Record(ctx, model.AuditRelCreated, sourceID, createdBy, map[string]any{
		"relationship_id": rel.ID.String(), "type": relType, "target": targetID.String(),
	})
	return toPublicRelationship(rel), nil
}

// GetRelationships lists every relationship touching an entity.
func (e *Engine) GetRelationships(ctx context.Context, entityID uuid.UUID) ([]*Relationship, error) {
	rels, err := e.repos.Relationships.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]*Relationship, len(rels))
	for i, r := range rels {
		out[i] = toPublicRelationship(r)
	}
	return out, nil
}

// DeleteRelationship removes a relationship by id.
func (e *Engine) DeleteRelationship(ctx context.Context, id uuid.UUID) error {
	err := e.repos.Relationships.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	e.auditor.Record(ctx, model.AuditRelDeleted, uuid.Nil, "api", map[string]any{
		"relationship_id": id.String(),
	})
	return nil
}

// BeginBatch opens a batch context for bulk resolution. The batch belongs
// to one goroutine.
func (e *Engine) BeginBatch() *Batch {
	return &Batch{b: resolve.NewBatch(e.pipeline)}
}

// ListPendingReviews pages the review queue, oldest first.
func (e *Engine) ListPendingReviews(ctx context.Context, limit, offset int) ([]*ReviewItem, error) {
	items, err := e.pipeline.ListPendingReviews(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*ReviewItem, len(items))
	for i, item := range items {
		out[i] = toPublicReviewItem(item)
	}
	return out, nil
}

// ApproveReview confirms a pending pairing, merging (or attaching) the
// reviewed name and reinforcing the survivor's synonyms.
func (e *Engine) ApproveReview(ctx context.Context, reviewID uuid.UUID, reviewerID, rationale string) (*ReviewItem, error) {
	item, err := e.pipeline.ApproveReview(ctx, reviewID, reviewerID, rationale)
	if err != nil {
		return nil, reviewErr(err)
	}
	return toPublicReviewItem(item), nil
}

// RejectReview confirms a pending pairing as distinct entities and weakens
// the candidate's synonyms.
func (e *Engine) RejectReview(ctx context.Context, reviewID uuid.UUID, reviewerID, rationale string) (*ReviewItem, error) {
	item, err := e.pipeline.RejectReview(ctx, reviewID, reviewerID, rationale)
	if err != nil {
		return nil, reviewErr(err)
	}
	return toPublicReviewItem(item), nil
}

func reviewErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// GetMergeHistory returns the full recursive merge chain an entity
// participates in, oldest first.
func (e *Engine) GetMergeHistory(ctx context.Context, entityID uuid.UUID) ([]*MergeRecord, error) {
	records, err := e.repos.Ledger.Chain(ctx, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]*MergeRecord, len(records))
	for i, r := range records {
		out[i] = toPublicMergeRecord(r)
	}
	return out, nil
}

// GetAuditTrail pages one entity's audit trail, oldest first. Pass the
// returned cursor to continue; an empty cursor means the trail is
// exhausted.
func (e *Engine) GetAuditTrail(ctx context.Context, entityID uuid.UUID, cursor string, limit int) ([]*AuditEntry, string, error) {
	entries, next, err := e.auditor.PageByEntity(ctx, entityID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]*AuditEntry, len(entries))
	for i, entry := range entries {
		out[i] = toPublicAuditEntry(entry)
	}
	return out, next, nil
}

// PurgeSoftDeleted hard-deletes entities soft-deleted before cutoff along
// with their incident edges. Scheduling is the caller's concern.
func (e *Engine) PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	return e.repos.Entities.PurgeSoftDeleted(ctx, cutoff)
}

// Health aggregates component liveness and resource stats.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		StoreConnected: true,
		LLMAvailable:   e.provider.IsAvailable(ctx),
		Cache:          toPublicCacheStats(e.resolveCache.Stats()),
		Version:        e.version,
	}
	if e.graphStore != nil {
		status.StoreConnected = e.graphStore.IsConnected(ctx)
	}
	if e.pool != nil {
		status.Pool = toPublicPoolStats(e.pool.Stats())
	}
	status.Healthy = status.StoreConnected
	return status
}

// Close releases every engine resource: cache sweep, pool handles, graph
// driver, audit store, and telemetry exporters.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	e.resolveCache.Close()
	if e.auditStore != nil {
		if err := e.auditStore.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closeStore(ctx)
	if e.otelShutdown != nil {
		if err := e.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) closeStore(ctx context.Context) {
	if e.pool != nil {
		e.pool.Close(ctx)
	}
	if e.graphStore != nil {
		if err := e.graphStore.Close(ctx); err != nil {
			e.logger.Warn("musubi: close graph store", "error", err)
		}
	}
}

// Batch is the public face of a bulk-resolution context.
type Batch struct {
	b *resolve.Batch
}

// Resolve resolves one name within the batch, deduplicating
// case-insensitively against earlier names in the same batch.
func (b *Batch) Resolve(ctx context.Context, name string, t EntityType) (*ResolveResult, error) {
	res, err := b.b.Resolve(ctx, name, entityType(t))
	if err != nil {
		return nil, err
	}
	return toPublicResult(res), nil
}

// DeferRelationship queues a relationship for creation at Commit.
func (b *Batch) DeferRelationship(sourceID, targetID uuid.UUID, relType string, properties map[string]any, createdBy string) error {
	return b.b.DeferRelationship(resolve.DeferredRelationship{
		SourceEntityID: sourceID,
		TargetEntityID: targetID,
		Type:           relType,
		Properties:     properties,
		CreatedBy:      createdBy,
	})
}

// Commit creates the deferred relationships in chunks and returns the
// batch summary. Relationship failures are recorded, not fatal.
func (b *Batch) Commit(ctx context.Context) (*BatchResult, error) {
	res, err := b.b.Commit(ctx)
	if err != nil {
		return nil, err
	}
	out := &BatchResult{
		TotalResolved:        res.TotalResolved,
		NewEntitiesCreated:   res.NewEntitiesCreated,
		RelationshipsCreated: res.RelationshipsCreated,
	}
	for _, re := range res.RelationshipErrors {
		out.RelationshipErrors = append(out.RelationshipErrors,
			fmt.Sprintf("%s -> %s (%s): %v", re.Relationship.SourceEntityID, re.Relationship.TargetEntityID, re.Relationship.Type, re.Err))
	}
	return out, nil
}

// Rollback abandons the batch, dropping deferred relationships.
func (b *Batch) Rollback() { b.b.Rollback() }

// Close auto-commits a batch that was neither committed nor rolled back.
func (b *Batch) Close(ctx context.Context) error { return b.b.Close(ctx) }
