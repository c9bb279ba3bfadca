// Package resolve implements the end-to-end resolution pipeline:
// validate, normalize, narrow candidates through the blocking index, score,
// decide, and persist — all under the identity lock, with the cache and
// merge engine wired in.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/musubi/internal/audit"
	"github.com/ashita-ai/musubi/internal/blocking"
	"github.com/ashita-ai/musubi/internal/cache"
	"github.com/ashita-ai/musubi/internal/decay"
	"github.com/ashita-ai/musubi/internal/llm"
	"github.com/ashita-ai/musubi/internal/lock"
	"github.com/ashita-ai/musubi/internal/merge"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/normalize"
	"github.com/ashita-ai/musubi/internal/similarity"
	"github.com/ashita-ai/musubi/internal/store"
	"github.com/ashita-ai/musubi/internal/telemetry"
)

// Result is the outcome of one resolution.
type Result struct {
	Entity               *model.Entity
	IsNewEntity          bool
	WasMatchedViaSynonym bool
	WasNewSynonymCreated bool
	Decision             model.Outcome
	Score                float64
	InputName            string
	MatchedName          string
	SuggestedSynonyms    []string
	ReviewItemID         *uuid.UUID
	Reference            *model.EntityReference
}

// Pipeline resolves names against the graph.
type Pipeline struct {
	repos      store.Repos
	normalizer *normalize.Normalizer
	scorer     *similarity.Scorer
	locker     lock.Locker
	cache      cache.ResolutionCache[*Result]
	merger     *merge.Engine
	provider   llm.Provider
	auditor    *audit.Service
	decayModel *decay.Model
	opts       Options
	logger     *slog.Logger
	now        func() time.Time

	tracer        trace.Tracer
	resolutions   metric.Int64Counter
	resolveTimeMS metric.Float64Histogram
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Repos      store.Repos
	Normalizer *normalize.Normalizer
	Locker     lock.Locker
	Cache      cache.ResolutionCache[*Result]
	Merger     *merge.Engine
	Provider   llm.Provider
	Auditor    *audit.Service
	Logger     *slog.Logger
}

// New wires a pipeline. Nil optional collaborators degrade: no cache means
// a no-op cache, no provider means LLM enrichment is off.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	scorer, err := similarity.NewScorer(opts.Weights)
	if err != nil {
		return nil, err
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(normalize.BuiltinRules())
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop[*Result]{}
	}
	if deps.Provider == nil {
		deps.Provider = llm.NoopProvider{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	meter := telemetry.Meter("musubi/resolve")
	resolutions, _ := meter.Int64Counter("musubi.resolve.count",
		metric.WithDescription("Resolutions by outcome"))
	duration, _ := meter.Float64Histogram("musubi.resolve.duration",
		metric.WithDescription("End-to-end resolution time (ms)"),
		metric.WithUnit("ms"))
	return &Pipeline{
		repos:         deps.Repos,
		normalizer:    deps.Normalizer,
		scorer:        scorer,
		locker:        deps.Locker,
		cache:         deps.Cache,
		merger:        deps.Merger,
		provider:      deps.Provider,
		auditor:       deps.Auditor,
		decayModel:    decay.New(opts.DecayLambda),
		opts:          opts,
		logger:        deps.Logger,
		now:           time.Now,
		tracer:        telemetry.Tracer("musubi/resolve"),
		resolutions:   resolutions,
		resolveTimeMS: duration,
	}, nil
}

// LockKey builds the identity lock key for a normalized name.
func LockKey(t model.EntityType, normalized string) string {
	return string(t) + ":" + normalized
}

// Resolve runs the full pipeline for one (name, type) pair.
func (p *Pipeline) Resolve(ctx context.Context, name string, t model.EntityType) (*Result, error) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "resolve.Pipeline.Resolve", trace.WithAttributes(
		attribute.String("musubi.entity_type", string(t)),
	))
	defer span.End()

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	normalized := p.normalizer.Normalize(name, t)
	if normalized == "" {
		return nil, fmt.Errorf("resolve: name %q normalizes to nothing: %w", name, ErrInvalidInput)
	}
	key := LockKey(t, normalized)

	// Fast path: cache outside the lock.
	if cached, ok := p.cache.Get(key); ok {
		return cachedView(cached, name), nil
	}

	if err := p.locker.TryLock(ctx, key, p.opts.LockTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.locker.Unlock(ctx, key); err != nil {
			p.logger.Warn("resolve: unlock failed", "key", key, "error", err)
		}
	}()

	// Re-check under the lock: a concurrent resolution of the same
	// identity may have just populated it.
	if cached, ok := p.cache.Get(key); ok {
		return cachedView(cached, name), nil
	}

	result, err := p.resolveLocked(ctx, name, normalized, t)
	if err != nil {
		return nil, err
	}

	if result.Entity != nil {
		result.Reference = model.NewEntityReference(result.Entity.ID, t, p.repos.Entities)
		p.cache.Put(key, result.Entity.ID, result)
	}
	p.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("musubi.outcome", string(result.Decision))))
	p.resolveTimeMS.Record(ctx, float64(p.now().Sub(start).Milliseconds()))
	span.SetAttributes(attribute.String("musubi.outcome", string(result.Decision)))
	return result, nil
}

// cachedView adapts a cached result for a follow-up caller: the entity was
// already there, so creation flags are off. A cached result that created the
// entity is reported as the exact match it now is (AUTO_MERGE, score 1.0).
func cachedView(r *Result, inputName string) *Result {
	view := *r
	if r.IsNewEntity && r.Entity != nil {
		view.Decision = model.OutcomeAutoMerge
		view.Score = 1.0
		view.MatchedName = r.Entity.CanonicalName
		view.ReviewItemID = nil
		view.SuggestedSynonyms = nil
	}
	view.IsNewEntity = false
	view.WasNewSynonymCreated = false
	view.InputName = inputName
	return &view
}

func (p *Pipeline) resolveLocked(ctx context.Context, name, normalized string, t model.EntityType) (*Result, error) {
	// Exact match bypasses scoring and the decision graph entirely.
	if entity, err := p.repos.Entities.FindActiveByNormalized(ctx, normalized, t); err == nil {
		return p.exactMatch(ctx, name, normalized, entity)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve: exact lookup: %w", err)
	}

	// Synonym lookup: a known alternate name short-circuits fuzzy scoring.
	if result, ok, err := p.synonymMatch(ctx, name, normalized, t); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	// Fuzzy path: narrow candidates, score, decide.
	best, subscores, err := p.bestCandidate(ctx, normalized, t)
	if err != nil {
		return nil, err
	}
	return p.decide(ctx, name, normalized, t, best, subscores)
}

func (p *Pipeline) exactMatch(ctx context.Context, name, normalized string, entity *model.Entity) (*Result, error) {
	result := &Result{
		Entity:      entity,
		Decision:    model.OutcomeAutoMerge,
		Score:       1.0,
		InputName:   name,
		MatchedName: entity.CanonicalName,
	}
	raw := strings.TrimSpace(name)
	if raw != entity.CanonicalName {
		created, err := p.ensureSynonym(ctx, entity, raw, normalized, model.SynonymSourceSystem, 1.0)
		if err != nil {
			return nil, err
		}
		result.WasNewSynonymCreated = created
	}
	return result, nil
}

// ensureSynonym attaches value to the entity unless an equivalent synonym
// already exists. Reports whether a new synonym was created.
func (p *Pipeline) ensureSynonym(ctx context.Context, entity *model.Entity, value, normalized string, source model.SynonymSource, confidence float64) (bool, error) {
	existing, err := p.repos.Synonyms.ListByEntity(ctx, entity.ID)
	if err != nil {
		return false, fmt.Errorf("resolve: list synonyms: %w", err)
	}
	for _, s := range existing {
		if s.NormalizedValue == normalized && strings.EqualFold(s.Value, value) {
			return false, nil
		}
	}
	now := p.now().UTC()
	syn := &model.Synonym{
		ID:              uuid.New(),
		Value:           value,
		NormalizedValue: normalized,
		Source:          source,
		Confidence:      confidence,
		SupportCount:    1,
		CreatedAt:       now,
		LastConfirmedAt: now,
		EntityID:        entity.ID,
	}
	if err := p.repos.Synonyms.Create(ctx, syn); err != nil {
		return false, fmt.Errorf("resolve: create synonym: %w", err)
	}
	p.audit(ctx, model.AuditSynonymAdded, entity.ID, map[string]any{
		"value":  value,
		"source": string(source),
	})
	return true, nil
}

func (p *Pipeline) synonymMatch(ctx context.Context, name, normalized string, t model.EntityType) (*Result, bool, error) {
	syns, err := p.repos.Synonyms.FindByNormalizedValue(ctx, normalized, t)
	if err != nil {
		return nil, false, fmt.Errorf("resolve: synonym lookup: %w", err)
	}
	if len(syns) == 0 {
		return nil, false, nil
	}
	// Pick the synonym with the highest effective confidence at this
	// instant; decayed synonyms lose ties to freshly confirmed ones.
	now := p.now()
	best := syns[0]
	bestEff := p.decayModel.Effective(best, now)
	for _, s := range syns[1:] {
		if eff := p.decayModel.Effective(s, now); eff > bestEff {
			best, bestEff = s, eff
		}
	}
	entity, err := p.repos.Entities.GetByID(ctx, best.EntityID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve: load synonym owner: %w", err)
	}
	return &Result{
		Entity:               entity,
		WasMatchedViaSynonym: true,
		Decision:             model.OutcomeAutoMerge,
		Score:                bestEff,
		InputName:            name,
		MatchedName:          entity.CanonicalName,
	}, true, nil
}

// bestCandidate narrows through the blocking index and scores every
// candidate, returning the best with its subscores. A cold index falls
// back to a bounded scan of the type.
func (p *Pipeline) bestCandidate(ctx context.Context, normalized string, t model.EntityType) (*model.Entity, similarity.Subscores, error) {
	keys := blocking.Keys(normalized)
	candidates, err := p.repos.Entities.FindCandidatesByBlockingKeys(ctx, keys, t)
	if err != nil {
		return nil, similarity.Subscores{}, fmt.Errorf("resolve: candidate lookup: %w", err)
	}
	if len(candidates) == 0 {
		candidates, err = p.repos.Entities.ScanActiveByType(ctx, t, p.opts.ScanLimit)
		if err != nil {
			return nil, similarity.Subscores{}, fmt.Errorf("resolve: type scan: %w", err)
		}
	}
	var best *model.Entity
	var bestScores similarity.Subscores
	for _, c := range candidates {
		scores := p.scorer.Score(normalized, c.NormalizedName)
		if best == nil || scores.Composite > bestScores.Composite {
			best, bestScores = c, scores
		}
	}
	return best, bestScores, nil
}

func (p *Pipeline) decide(ctx context.Context, name, normalized string, t model.EntityType, best *model.Entity, scores similarity.Subscores) (*Result, error) {
	outcome := p.fuzzyOutcome(scores.Composite, best)

	var suggested []string
	evaluator := p.opts.Evaluator
	if p.opts.UseLLM && best != nil && outcome != model.OutcomeAutoMerge {
		outcome, suggested, evaluator = p.enrich(ctx, normalized, best, outcome)
	}

	// Every non-exact decision is recorded with full provenance.
	decision := &model.MatchDecision{
		ID:                 uuid.New(),
		InputEntityTempID:  normalized,
		EntityType:         t,
		LevenshteinScore:   scores.Levenshtein,
		JaroWinklerScore:   scores.JaroWinkler,
		JaccardScore:       scores.Jaccard,
		FinalScore:         scores.Composite,
		AutoMergeThreshold: p.opts.AutoMergeThreshold,
		SynonymThreshold:   p.opts.SynonymThreshold,
		ReviewThreshold:    p.opts.ReviewThreshold,
		Outcome:            outcome,
		Evaluator:          evaluator,
		Timestamp:          p.now().UTC(),
	}
	if best != nil {
		id := best.ID
		decision.CandidateEntityID = &id
	}
	if err := p.repos.Decisions.CreateMatchDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("resolve: persist decision: %w", err)
	}

	switch outcome {
	case model.OutcomeAutoMerge:
		return p.executeAutoMerge(ctx, name, normalized, t, best, scores.Composite, suggested)
	case model.OutcomeSynonymOnly:
		return p.executeSynonymOnly(ctx, name, normalized, best, scores.Composite, suggested)
	case model.OutcomeReview:
		return p.executeReview(ctx, name, normalized, t, best, scores.Composite, suggested)
	default:
		result, err := p.executeNoMatch(ctx, name, normalized, t)
		if err != nil {
			return nil, err
		}
		result.SuggestedSynonyms = suggested
		return result, nil
	}
}

// fuzzyOutcome applies the threshold bands to the best composite score.
func (p *Pipeline) fuzzyOutcome(score float64, best *model.Entity) model.Outcome {
	if best == nil {
		return model.OutcomeNoMatch
	}
	switch {
	case score >= p.opts.AutoMergeThreshold && p.opts.AutoMergeEnabled:
		return model.OutcomeAutoMerge
	case score >= p.opts.AutoMergeThreshold:
		// Auto-merge disabled: the match is still strong enough to attach.
		return model.OutcomeSynonymOnly
	case score >= p.opts.SynonymThreshold:
		return model.OutcomeSynonymOnly
	case score >= p.opts.ReviewThreshold:
		return model.OutcomeReview
	default:
		return model.OutcomeNoMatch
	}
}

// enrich consults the LLM provider for a borderline pair. A provider
// verdict promotes at most to SYNONYM_ONLY — never to AUTO_MERGE — and an
// unavailable provider degrades to the fuzzy outcome.
func (p *Pipeline) enrich(ctx context.Context, normalized string, best *model.Entity, fuzzy model.Outcome) (model.Outcome, []string, string) {
	evaluator := p.opts.Evaluator
	if !p.provider.IsAvailable(ctx) {
		p.logger.Warn("resolve: llm provider unavailable, using fuzzy outcome",
			"provider", p.provider.ProviderName())
		return fuzzy, nil, evaluator
	}
	resp, err := p.provider.Enrich(ctx, llm.EnrichRequest{
		Name1: normalized,
		Name2: best.NormalizedName,
		Type:  best.Type,
	})
	if err != nil {
		p.logger.Warn("resolve: llm enrichment failed, using fuzzy outcome",
			"provider", p.provider.ProviderName(), "error", err)
		return fuzzy, nil, evaluator
	}
	evaluator = p.provider.ProviderName()
	switch {
	case resp.AreSameEntity && resp.Confidence >= p.opts.LLMConfidenceThreshold:
		return model.OutcomeSynonymOnly, resp.SuggestedSynonyms, evaluator
	case resp.AreSameEntity:
		return model.OutcomeReview, resp.SuggestedSynonyms, evaluator
	default:
		return fuzzy, resp.SuggestedSynonyms, evaluator
	}
}

// executeAutoMerge materializes the input as an entity and merges it into
// the winning candidate, so the merge ledger and duplicate records capture
// the fold.
func (p *Pipeline) executeAutoMerge(ctx context.Context, name, normalized string, t model.EntityType, best *model.Entity, score float64, suggested []string) (*Result, error) {
	source, err := p.createEntity(ctx, name, normalized, t, score)
	if err != nil {
		return nil, err
	}
	_, err = p.merger.Merge(ctx, merge.Request{
		SourceID:     source.ID,
		TargetID:     best.ID,
		Score:        score,
		Decision:     string(model.OutcomeAutoMerge),
		TriggeredBy:  p.opts.Evaluator,
		Reasoning:    fmt.Sprintf("composite similarity %.4f >= %.2f", score, p.opts.AutoMergeThreshold),
		SourceSystem: p.opts.SourceSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve: auto-merge: %w", err)
	}
	return &Result{
		Entity:            best,
		Decision:          model.OutcomeAutoMerge,
		Score:             score,
		InputName:         name,
		MatchedName:       best.CanonicalName,
		SuggestedSynonyms: suggested,
	}, nil
}

func (p *Pipeline) executeSynonymOnly(ctx context.Context, name, normalized string, best *model.Entity, score float64, suggested []string) (*Result, error) {
	created, err := p.ensureSynonym(ctx, best, strings.TrimSpace(name), normalized, model.SynonymSourceSystem, score)
	if err != nil {
		return nil, err
	}
	return &Result{
		Entity:               best,
		WasNewSynonymCreated: created,
		Decision:             model.OutcomeSynonymOnly,
		Score:                score,
		InputName:            name,
		MatchedName:          best.CanonicalName,
		SuggestedSynonyms:    suggested,
	}, nil
}

func (p *Pipeline) executeReview(ctx context.Context, name, normalized string, t model.EntityType, best *model.Entity, score float64, suggested []string) (*Result, error) {
	result := &Result{
		Decision:          model.OutcomeReview,
		Score:             score,
		InputName:         name,
		MatchedName:       best.CanonicalName,
		SuggestedSynonyms: suggested,
	}
	sourceID := uuid.Nil
	sourceName := strings.TrimSpace(name)
	if !p.opts.HoldEntityOnReview {
		entity, err := p.createEntity(ctx, name, normalized, t, score)
		if err != nil {
			return nil, err
		}
		result.Entity = entity
		result.IsNewEntity = true
		sourceID = entity.ID
	}
	item := &model.ReviewItem{
		ID:                  uuid.New(),
		SourceEntityID:      sourceID,
		CandidateEntityID:   best.ID,
		SourceEntityName:    sourceName,
		CandidateEntityName: best.CanonicalName,
		EntityType:          t,
		SimilarityScore:     score,
		Status:              model.ReviewStatusPending,
		SubmittedAt:         p.now().UTC(),
	}
	if err := p.repos.Reviews.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("resolve: submit review: %w", err)
	}
	id := item.ID
	result.ReviewItemID = &id
	p.audit(ctx, model.AuditReviewSubmitted, best.ID, map[string]any{
		"review_id":   item.ID.String(),
		"source_name": sourceName,
		"score":       score,
	})
	return result, nil
}

func (p *Pipeline) executeNoMatch(ctx context.Context, name, normalized string, t model.EntityType) (*Result, error) {
	entity, err := p.createEntity(ctx, name, normalized, t, 1.0)
	if err != nil {
		return nil, err
	}
	return &Result{
		Entity:      entity,
		IsNewEntity: true,
		Decision:    model.OutcomeNoMatch,
		Score:       0,
		InputName:   name,
		MatchedName: entity.CanonicalName,
	}, nil
}

// createEntity persists a new ACTIVE entity with its blocking keys.
func (p *Pipeline) createEntity(ctx context.Context, name, normalized string, t model.EntityType, confidence float64) (*model.Entity, error) {
	now := p.now().UTC()
	entity := &model.Entity{
		ID:              uuid.New(),
		CanonicalName:   strings.TrimSpace(name),
		NormalizedName:  normalized,
		Type:            t,
		ConfidenceScore: confidence,
		Status:          model.EntityStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.repos.Entities.Create(ctx, entity, blocking.Keys(normalized)); err != nil {
		return nil, fmt.Errorf("resolve: create entity: %w", err)
	}
	p.audit(ctx, model.AuditEntityCreated, entity.ID, map[string]any{
		"canonical_name":  entity.CanonicalName,
		"normalized_name": normalized,
		"type":            string(t),
	})
	return entity, nil
}

// audit records an entry when an auditor is wired; audit failures never
// fail a resolution.
func (p *Pipeline) audit(ctx context.Context, action model.AuditAction, entityID uuid.UUID, details map[string]any) {
	if p.auditor == nil {
		return
	}
	p.auditor.Record(ctx, action, entityID, p.opts.Evaluator, details)
}

// Options exposes the pipeline's configuration to collaborators (batch
// contexts, review services).
func (p *Pipeline) Options() Options { return p.opts }

// DecayModel exposes the synonym decay model sharing this pipeline's lambda.
func (p *Pipeline) DecayModel() *decay.Model { return p.decayModel }
