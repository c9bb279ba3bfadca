// Package config loads and validates engine configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Graph store settings.
	GraphURI      string
	GraphUsername string
	GraphPassword string
	GraphDatabase string

	// Decision thresholds.
	AutoMergeThreshold     float64
	SynonymThreshold       float64
	ReviewThreshold        float64
	AutoMergeEnabled       bool
	UseLLM                 bool
	LLMConfidenceThreshold float64

	// Identity lock settings.
	LockTimeout    time.Duration
	LockTTL        time.Duration
	LockMaxRetries int
	LockRetryDelay time.Duration

	// Connection pool settings.
	PoolMaxTotal int
	PoolMaxIdle  int
	PoolMinIdle  int
	PoolMaxWait  time.Duration

	// Cache settings.
	CacheEnabled       bool
	CacheMaxEntries    int
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	// Batch settings.
	MaxBatchSize         int
	MaxBatchMemoryBytes  int
	BatchCommitChunkSize int

	// Confidence decay.
	DecayLambda float64

	// Audit backend: "memory", "graph", or "sqlite".
	AuditBackend    string
	AuditSQLitePath string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel     string
	SourceSystem string
}

// Load reads configuration from environment variables with sensible defaults.
// Missing variables use defaults; malformed values are rejected, and the
// parsed result must then pass Validate.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		GraphURI:        envStr("MUSUBI_GRAPH_URI", "bolt://localhost:7687"),
		GraphUsername:   envStr("MUSUBI_GRAPH_USERNAME", "neo4j"),
		GraphPassword:   envStr("MUSUBI_GRAPH_PASSWORD", ""),
		GraphDatabase:   envStr("MUSUBI_GRAPH_DATABASE", ""),
		AuditBackend:    envStr("MUSUBI_AUDIT_BACKEND", "graph"),
		AuditSQLitePath: envStr("MUSUBI_AUDIT_SQLITE_PATH", "musubi-audit.db"),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:     envStr("OTEL_SERVICE_NAME", "musubi"),
		LogLevel:        envStr("MUSUBI_LOG_LEVEL", "info"),
		SourceSystem:    envStr("MUSUBI_SOURCE_SYSTEM", ""),
	}

	// Float fields.
	cfg.AutoMergeThreshold, errs = collectFloat(errs, "MUSUBI_AUTO_MERGE_THRESHOLD", 0.92)
	cfg.SynonymThreshold, errs = collectFloat(errs, "MUSUBI_SYNONYM_THRESHOLD", 0.80)
	cfg.ReviewThreshold, errs = collectFloat(errs, "MUSUBI_REVIEW_THRESHOLD", 0.60)
	cfg.LLMConfidenceThreshold, errs = collectFloat(errs, "MUSUBI_LLM_CONFIDENCE_THRESHOLD", 0.85)
	cfg.DecayLambda, errs = collectFloat(errs, "MUSUBI_DECAY_LAMBDA", 0.001)

	// Integer fields.
	cfg.PoolMaxTotal, errs = collectInt(errs, "MUSUBI_POOL_MAX_TOTAL", 10)
	cfg.PoolMaxIdle, errs = collectInt(errs, "MUSUBI_POOL_MAX_IDLE", 5)
	cfg.PoolMinIdle, errs = collectInt(errs, "MUSUBI_POOL_MIN_IDLE", 1)
	cfg.CacheMaxEntries, errs = collectInt(errs, "MUSUBI_CACHE_MAX_ENTRIES", 10_000)
	cfg.MaxBatchSize, errs = collectInt(errs, "MUSUBI_MAX_BATCH_SIZE", 1000)
	cfg.MaxBatchMemoryBytes, errs = collectInt(errs, "MUSUBI_MAX_BATCH_MEMORY_BYTES", 64<<20)
	cfg.BatchCommitChunkSize, errs = collectInt(errs, "MUSUBI_BATCH_COMMIT_CHUNK_SIZE", 100)
	cfg.LockMaxRetries, errs = collectInt(errs, "MUSUBI_LOCK_MAX_RETRIES", 10)

	// Boolean fields.
	cfg.AutoMergeEnabled, errs = collectBool(errs, "MUSUBI_AUTO_MERGE_ENABLED", true)
	cfg.UseLLM, errs = collectBool(errs, "MUSUBI_USE_LLM", false)
	cfg.CacheEnabled, errs = collectBool(errs, "MUSUBI_CACHE_ENABLED", true)
	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)

	// Duration fields.
	cfg.LockTimeout, errs = collectDuration(errs, "MUSUBI_LOCK_TIMEOUT", 10*time.Second)
	cfg.LockTTL, errs = collectDuration(errs, "MUSUBI_LOCK_TTL", 30*time.Second)
	cfg.LockRetryDelay, errs = collectDuration(errs, "MUSUBI_LOCK_RETRY_DELAY", 100*time.Millisecond)
	cfg.PoolMaxWait, errs = collectDuration(errs, "MUSUBI_POOL_MAX_WAIT", 5*time.Second)
	cfg.CacheTTL, errs = collectDuration(errs, "MUSUBI_CACHE_TTL", 5*time.Minute)
	cfg.CacheSweepInterval, errs = collectDuration(errs, "MUSUBI_CACHE_SWEEP_INTERVAL", time.Minute)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectFloat parses a float env var, appending any error to the accumulator.
func collectFloat(errs []error, key string, fallback float64) (float64, []error) {
	v, err := envFloat(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.GraphURI == "" {
		errs = append(errs, errors.New("config: MUSUBI_GRAPH_URI is required"))
	}
	for name, v := range map[string]float64{
		"MUSUBI_AUTO_MERGE_THRESHOLD":     c.AutoMergeThreshold,
		"MUSUBI_SYNONYM_THRESHOLD":        c.SynonymThreshold,
		"MUSUBI_REVIEW_THRESHOLD":         c.ReviewThreshold,
		"MUSUBI_LLM_CONFIDENCE_THRESHOLD": c.LLMConfidenceThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("config: %s must be in [0,1]", name))
		}
	}
	if !(c.ReviewThreshold <= c.SynonymThreshold && c.SynonymThreshold <= c.AutoMergeThreshold) {
		errs = append(errs, errors.New("config: thresholds must satisfy review <= synonym <= autoMerge"))
	}
	if c.DecayLambda < 0 {
		errs = append(errs, errors.New("config: MUSUBI_DECAY_LAMBDA must be non-negative"))
	}
	if c.PoolMaxTotal <= 0 {
		errs = append(errs, errors.New("config: MUSUBI_POOL_MAX_TOTAL must be positive"))
	}
	if c.PoolMaxIdle < 0 || c.PoolMinIdle < 0 {
		errs = append(errs, errors.New("config: pool idle bounds must be non-negative"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("config: MUSUBI_LOCK_TIMEOUT must be positive"))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("config: MUSUBI_MAX_BATCH_SIZE must be positive"))
	}
	switch c.AuditBackend {
	case "memory", "graph", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("config: MUSUBI_AUDIT_BACKEND %q must be memory, graph, or sqlite", c.AuditBackend))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid float", key, v)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
