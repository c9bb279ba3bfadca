package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

const synonymReturn = `s.id AS id, s.value AS value, s.normalizedValue AS normalizedValue,
	s.source AS source, s.confidence AS confidence, s.supportCount AS supportCount,
	s.createdAt AS createdAt, s.lastConfirmedAt AS lastConfirmedAt, e.id AS entityId`

// GraphSynonymRepo is the graph-backed SynonymRepo.
type GraphSynonymRepo struct {
	r runner
}

// NewGraphSynonymRepo creates the repo over the given pool.
func NewGraphSynonymRepo(pool *graph.Pool) *GraphSynonymRepo {
	return &GraphSynonymRepo{r: runner{pool: pool}}
}

func rowSynonym(row map[string]any) (*model.Synonym, error) {
	id, err := rowUUID(row, "id")
	if err != nil {
		return nil, err
	}
	entityID, err := rowUUID(row, "entityId")
	if err != nil {
		return nil, err
	}
	return &model.Synonym{
		ID:              id,
		Value:           rowStr(row, "value"),
		NormalizedValue: rowStr(row, "normalizedValue"),
		Source:          model.SynonymSource(rowStr(row, "source")),
		Confidence:      rowFloat(row, "confidence"),
		SupportCount:    int(rowInt(row, "supportCount")),
		CreatedAt:       rowTime(row, "createdAt"),
		LastConfirmedAt: rowTime(row, "lastConfirmedAt"),
		EntityID:        entityID,
	}, nil
}

func rowSynonyms(rows []map[string]any) ([]*model.Synonym, error) {
	out := make([]*model.Synonym, 0, len(rows))
	for _, row := range rows {
		s, err := rowSynonym(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *GraphSynonymRepo) Create(ctx context.Context, s *model.Synonym) error {
	return g.r.exec(ctx, `
		MATCH (e:Entity {id: $entityId})
		CREATE (s:Synonym {id: $id, value: $value, normalizedValue: $normalizedValue,
			source: $source, confidence: $confidence, supportCount: $supportCount,
			createdAt: $createdAt, lastConfirmedAt: $lastConfirmedAt})
		CREATE (s)-[:SYNONYM_OF]->(e)`,
		map[string]any{
			"entityId":        s.EntityID,
			"id":              s.ID,
			"value":           s.Value,
			"normalizedValue": s.NormalizedValue,
			"source":          string(s.Source),
			"confidence":      s.Confidence,
			"supportCount":    int64(s.SupportCount),
			"createdAt":       ms(s.CreatedAt),
			"lastConfirmedAt": ms(s.LastConfirmedAt),
		})
}

func (g *GraphSynonymRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return g.r.exec(ctx, `
		MATCH (s:Synonym {id: $id})
		DETACH DELETE s`,
		map[string]any{"id": id})
}

func (g *GraphSynonymRepo) FindByNormalizedValue(ctx context.Context, normalized string, t model.EntityType) ([]*model.Synonym, error) {
	rows, err := g.r.query(ctx, `
		MATCH (s:Synonym {normalizedValue: $normalized})-[:SYNONYM_OF]->(e:Entity {status: 'ACTIVE', type: $type})
		WHERE e.deletedAt IS NULL
		RETURN `+synonymReturn,
		map[string]any{"normalized": normalized, "type": string(t)})
	if err != nil {
		return nil, err
	}
	return rowSynonyms(rows)
}

func (g *GraphSynonymRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Synonym, error) {
	rows, err := g.r.query(ctx, `
		MATCH (s:Synonym)-[:SYNONYM_OF]->(e:Entity {id: $entityId})
		RETURN `+synonymReturn+`
		ORDER BY s.createdAt`,
		map[string]any{"entityId": entityID})
	if err != nil {
		return nil, err
	}
	return rowSynonyms(rows)
}

func (g *GraphSynonymRepo) Update(ctx context.Context, s *model.Synonym) error {
	return g.r.exec(ctx, `
		MATCH (s:Synonym {id: $id})
		SET s.confidence = $confidence, s.supportCount = $supportCount,
			s.lastConfirmedAt = $lastConfirmedAt`,
		map[string]any{
			"id":              s.ID,
			"confidence":      s.Confidence,
			"supportCount":    int64(s.SupportCount),
			"lastConfirmedAt": ms(s.LastConfirmedAt),
		})
}
