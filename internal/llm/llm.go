// Package llm defines the semantic-enrichment provider contract. The engine
// consults a provider for borderline fuzzy matches only; a provider verdict
// can promote an outcome at most to synonym, never to auto-merge.
package llm

import (
	"context"
	"errors"

	"github.com/ashita-ai/musubi/internal/model"
)

// ErrUnavailable signals a disabled or unreachable provider. The pipeline
// degrades to fuzzy-only decisions when it sees this.
var ErrUnavailable = errors.New("llm: provider unavailable")

// EnrichRequest carries one candidate pair for semantic comparison.
type EnrichRequest struct {
	Name1   string
	Name2   string
	Type    model.EntityType
	Context string
}

// EnrichResponse is the provider's verdict.
type EnrichResponse struct {
	Confidence        float64
	AreSameEntity     bool
	Reasoning         string
	SuggestedSynonyms []string
	RelatedEntities   []string
}

// Provider is the capability contract for semantic enrichment.
type Provider interface {
	Enrich(ctx context.Context, req EnrichRequest) (EnrichResponse, error)
	IsAvailable(ctx context.Context) bool
	ProviderName() string
}

// NoopProvider is the disabled provider: never available, every call
// surfaces ErrUnavailable.
type NoopProvider struct{}

func (NoopProvider) Enrich(ctx context.Context, req EnrichRequest) (EnrichResponse, error) {
	return EnrichResponse{}, ErrUnavailable
}

func (NoopProvider) IsAvailable(ctx context.Context) bool { return false }

func (NoopProvider) ProviderName() string { return "noop" }

// StaticProvider returns a fixed response for every pair. Test double and
// offline calibration tool.
type StaticProvider struct {
	Response EnrichResponse
	Err      error
	Name     string
}

func (p *StaticProvider) Enrich(ctx context.Context, req EnrichRequest) (EnrichResponse, error) {
	if p.Err != nil {
		return EnrichResponse{}, p.Err
	}
	return p.Response, nil
}

func (p *StaticProvider) IsAvailable(ctx context.Context) bool { return p.Err == nil }

func (p *StaticProvider) ProviderName() string {
	if p.Name == "" {
		return "static"
	}
	return p.Name
}
