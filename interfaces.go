package musubi

import (
	"context"

	"github.com/ashita-ai/musubi/internal/llm"
	"github.com/ashita-ai/musubi/internal/model"
)

// EnrichRequest carries one candidate pair for semantic comparison.
type EnrichRequest struct {
	Name1   string
	Name2   string
	Type    EntityType
	Context string
}

// EnrichResponse is a provider's verdict on a candidate pair.
type EnrichResponse struct {
	Confidence        float64
	AreSameEntity     bool
	Reasoning         string
	SuggestedSynonyms []string
	RelatedEntities   []string
}

// LLMProvider is the semantic-enrichment capability contract. A provider
// verdict can promote a borderline fuzzy outcome at most to SYNONYM_ONLY;
// the engine never delegates AUTO_MERGE to a provider.
type LLMProvider interface {
	Enrich(ctx context.Context, req EnrichRequest) (EnrichResponse, error)
	IsAvailable(ctx context.Context) bool
	ProviderName() string
}

// GraphStore is the public face of the storage contract: a typed
// query/execute surface over a cypher-like language with bound parameters.
// Implementations replace the built-in neo4j adapter via WithGraphStore.
type GraphStore interface {
	Execute(ctx context.Context, query string, params map[string]any) error
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	CreateIndexes(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	Close(ctx context.Context) error
}

// providerAdapter bridges a public LLMProvider into the internal contract.
type providerAdapter struct {
	p LLMProvider
}

func (a providerAdapter) Enrich(ctx context.Context, req llm.EnrichRequest) (llm.EnrichResponse, error) {
	resp, err := a.p.Enrich(ctx, EnrichRequest{
		Name1:   req.Name1,
		Name2:   req.Name2,
		Type:    EntityType(req.Type),
		Context: req.Context,
	})
	if err != nil {
		return llm.EnrichResponse{}, err
	}
	return llm.EnrichResponse{
		Confidence:        resp.Confidence,
		AreSameEntity:     resp.AreSameEntity,
		Reasoning:         resp.Reasoning,
		SuggestedSynonyms: resp.SuggestedSynonyms,
		RelatedEntities:   resp.RelatedEntities,
	}, nil
}

func (a providerAdapter) IsAvailable(ctx context.Context) bool { return a.p.IsAvailable(ctx) }

func (a providerAdapter) ProviderName() string { return a.p.ProviderName() }

// entityType narrows a public type value to the internal enum.
func entityType(t EntityType) model.EntityType { return model.EntityType(t) }
