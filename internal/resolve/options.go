package resolve

import (
	"fmt"
	"time"

	"github.com/ashita-ai/musubi/internal/similarity"
)

// Options is the explicit configuration record for a pipeline. Construct
// with DefaultOptions and override fields; Validate before use.
type Options struct {
	// Decision thresholds over the composite similarity score.
	AutoMergeThreshold float64
	SynonymThreshold   float64
	ReviewThreshold    float64

	// AutoMergeEnabled gates the merge engine; when false a score above
	// AutoMergeThreshold degrades to SYNONYM_ONLY.
	AutoMergeEnabled bool

	// LLM enrichment for borderline fuzzy outcomes.
	UseLLM                 bool
	LLMConfidenceThreshold float64

	// SourceSystem tags duplicates created by merges from this pipeline.
	SourceSystem string

	// Evaluator names the decision maker recorded on MatchDecision nodes.
	Evaluator string

	// LockTimeout bounds identity-lock acquisition.
	LockTimeout time.Duration

	// ScanLimit bounds the full-type scan used when the blocking index
	// returns no candidates.
	ScanLimit int

	// Batch limits.
	MaxBatchSize         int
	MaxBatchMemoryBytes  int64
	BatchCommitChunkSize int

	// HoldEntityOnReview defers entity creation for REVIEW outcomes until
	// the review is approved or rejected, instead of creating the entity
	// immediately.
	HoldEntityOnReview bool

	// Weights for the composite scorer.
	Weights similarity.Weights

	// DecayLambda is the per-day synonym confidence decay rate.
	DecayLambda float64
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		AutoMergeThreshold:     0.92,
		SynonymThreshold:       0.80,
		ReviewThreshold:        0.60,
		AutoMergeEnabled:       true,
		UseLLM:                 false,
		LLMConfidenceThreshold: 0.85,
		Evaluator:              "musubi",
		LockTimeout:            10 * time.Second,
		ScanLimit:              1000,
		MaxBatchSize:           1000,
		MaxBatchMemoryBytes:    64 << 20,
		BatchCommitChunkSize:   100,
		Weights:                similarity.DefaultWeights,
		DecayLambda:            0.001,
	}
}

// Validate checks threshold ordering and weight constraints.
func (o Options) Validate() error {
	for name, v := range map[string]float64{
		"AutoMergeThreshold":     o.AutoMergeThreshold,
		"SynonymThreshold":       o.SynonymThreshold,
		"ReviewThreshold":        o.ReviewThreshold,
		"LLMConfidenceThreshold": o.LLMConfidenceThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("resolve: %s must be in [0,1], got %v", name, v)
		}
	}
	if !(o.ReviewThreshold <= o.SynonymThreshold && o.SynonymThreshold <= o.AutoMergeThreshold) {
		return fmt.Errorf("resolve: thresholds must satisfy review <= synonym <= autoMerge, got %v <= %v <= %v",
			o.ReviewThreshold, o.SynonymThreshold, o.AutoMergeThreshold)
	}
	if o.LockTimeout <= 0 {
		return fmt.Errorf("resolve: LockTimeout must be positive, got %s", o.LockTimeout)
	}
	if o.ScanLimit <= 0 {
		return fmt.Errorf("resolve: ScanLimit must be positive, got %d", o.ScanLimit)
	}
	if err := o.Weights.Validate(); err != nil {
		return err
	}
	return nil
}
