package musubi

import (
	"log/slog"
	"time"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger           *slog.Logger
	version          string
	graphStore       GraphStore
	memoryStore      bool
	provider         LLMProvider
	auditBackend     string
	cacheDisabled    bool
	crossProcessLock bool
	resolveOpts      *ResolveOptions
}

// ResolveOptions overrides the pipeline tuning assembled from environment
// configuration. Zero fields keep their configured values.
type ResolveOptions struct {
	AutoMergeThreshold     float64
	SynonymThreshold       float64
	ReviewThreshold        float64
	AutoMergeDisabled      bool
	UseLLM                 bool
	LLMConfidenceThreshold float64
	SourceSystem           string
	Evaluator              string
	LockTimeout            time.Duration
	ScanLimit              int
	MaxBatchSize           int
	MaxBatchMemoryBytes    int64
	BatchCommitChunkSize   int
	HoldEntityOnReview     bool
	DecayLambda            float64
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by Health.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithGraphStore injects a pre-built graph store, replacing the neo4j
// connection the Engine would otherwise open from configuration.
func WithGraphStore(s GraphStore) Option {
	return func(o *resolvedOptions) { o.graphStore = s }
}

// WithMemoryStore runs the Engine entirely in process memory: no graph
// database, no durability. Intended for tests and embedded trials.
func WithMemoryStore() Option {
	return func(o *resolvedOptions) { o.memoryStore = true }
}

// WithLLMProvider wires a semantic-enrichment provider. Without one the
// pipeline runs fuzzy-only regardless of the UseLLM option.
func WithLLMProvider(p LLMProvider) Option {
	return func(o *resolvedOptions) { o.provider = p }
}

// WithAuditBackend overrides the audit store: "memory", "graph", or
// "sqlite" (MUSUBI_AUDIT_BACKEND env var).
func WithAuditBackend(backend string) Option {
	return func(o *resolvedOptions) { o.auditBackend = backend }
}

// WithCacheDisabled turns the resolution cache into a no-op.
func WithCacheDisabled() Option {
	return func(o *resolvedOptions) { o.cacheDisabled = true }
}

// WithCrossProcessLock uses the graph-backed advisory lock instead of the
// in-process one, serializing resolutions across every process sharing the
// store. Requires a graph store.
func WithCrossProcessLock() Option {
	return func(o *resolvedOptions) { o.crossProcessLock = true }
}

// WithResolveOptions overrides pipeline tuning. The assembled record is
// validated during New.
func WithResolveOptions(opts ResolveOptions) Option {
	return func(o *resolvedOptions) { o.resolveOpts = &opts }
}
