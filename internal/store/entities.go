package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

const entityReturn = `e.id AS id, e.canonicalName AS canonicalName,
	e.normalizedName AS normalizedName, e.type AS type,
	e.confidenceScore AS confidenceScore, e.status AS status,
	e.createdAt AS createdAt, e.updatedAt AS updatedAt, e.deletedAt AS deletedAt`

// GraphEntityRepo is the graph-backed EntityRepo.
type GraphEntityRepo struct {
	r runner
}

// NewGraphEntityRepo creates the repo over the given pool.
func NewGraphEntityRepo(pool *graph.Pool) *GraphEntityRepo {
	return &GraphEntityRepo{r: runner{pool: pool}}
}

func entityParams(e *model.Entity) map[string]any {
	p := map[string]any{
		"id":              e.ID,
		"canonicalName":   e.CanonicalName,
		"normalizedName":  e.NormalizedName,
		"type":            string(e.Type),
		"confidenceScore": e.ConfidenceScore,
		"status":          string(e.Status),
		"createdAt":       ms(e.CreatedAt),
		"updatedAt":       ms(e.UpdatedAt),
	}
	return p
}

func rowEntity(row map[string]any) (*model.Entity, error) {
	id, err := rowUUID(row, "id")
	if err != nil {
		return nil, err
	}
	return &model.Entity{
		ID:              id,
		CanonicalName:   rowStr(row, "canonicalName"),
		NormalizedName:  rowStr(row, "normalizedName"),
		Type:            model.EntityType(rowStr(row, "type")),
		ConfidenceScore: rowFloat(row, "confidenceScore"),
		Status:          model.EntityStatus(rowStr(row, "status")),
		CreatedAt:       rowTime(row, "createdAt"),
		UpdatedAt:       rowTime(row, "updatedAt"),
		DeletedAt:       rowTimePtr(row, "deletedAt"),
	}, nil
}

func rowEntities(rows []map[string]any) ([]*model.Entity, error) {
	out := make([]*model.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := rowEntity(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (g *GraphEntityRepo) Create(ctx context.Context, e *model.Entity, blockingKeys []string) error {
	params := entityParams(e)
	params["keys"] = blockingKeys
	return g.r.exec(ctx, `
		CREATE (e:Entity {id: $id, canonicalName: $canonicalName,
			normalizedName: $normalizedName, type: $type,
			confidenceScore: $confidenceScore, status: $status,
			createdAt: $createdAt, updatedAt: $updatedAt})
		WITH e
		UNWIND $keys AS k
		MERGE (b:BlockingKey {value: k})
		MERGE (e)-[:HAS_BLOCKING_KEY]->(b)`,
		params)
}

func (g *GraphEntityRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	rows, err := g.r.query(ctx, `
		MATCH (e:Entity {id: $id})
		WHERE e.deletedAt IS NULL
		RETURN `+entityReturn+`
		LIMIT 1`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rowEntity(rows[0])
}

func (g *GraphEntityRepo) FindActiveByNormalized(ctx context.Context, normalized string, t model.EntityType) (*model.Entity, error) {
	rows, err := g.r.query(ctx, `
		MATCH (e:Entity {normalizedName: $normalized, type: $type, status: 'ACTIVE'})
		WHERE e.deletedAt IS NULL
		RETURN `+entityReturn+`
		LIMIT 1`,
		map[string]any{"normalized": normalized, "type": string(t)})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rowEntity(rows[0])
}

func (g *GraphEntityRepo) FindCandidatesByBlockingKeys(ctx context.Context, keys []string, t model.EntityType) ([]*model.Entity, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := g.r.query(ctx, `
		MATCH (b:BlockingKey)<-[:HAS_BLOCKING_KEY]-(e:Entity)
		WHERE b.value IN $keys AND e.type = $type AND e.status = 'ACTIVE'
			AND e.deletedAt IS NULL
		RETURN DISTINCT `+entityReturn,
		map[string]any{"keys": keys, "type": string(t)})
	if err != nil {
		return nil, err
	}
	return rowEntities(rows)
}

func (g *GraphEntityRepo) ScanActiveByType(ctx context.Context, t model.EntityType, limit int) ([]*model.Entity, error) {
	rows, err := g.r.query(ctx, `
		MATCH (e:Entity {type: $type, status: 'ACTIVE'})
		WHERE e.deletedAt IS NULL
		RETURN `+entityReturn+`
		LIMIT $limit`,
		map[string]any{"type": string(t), "limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	return rowEntities(rows)
}

func (g *GraphEntityRepo) MarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error {
	return g.r.exec(ctx, `
		MATCH (s:Entity {id: $source}), (t:Entity {id: $target})
		SET s.status = 'MERGED', s.updatedAt = $now
		MERGE (s)-[:MERGED_INTO]->(t)`,
		map[string]any{"source": sourceID, "target": targetID, "now": ms(time.Now())})
}

func (g *GraphEntityRepo) UnmarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error {
	return g.r.exec(ctx, `
		MATCH (s:Entity {id: $source})-[r:MERGED_INTO]->(t:Entity {id: $target})
		DELETE r
		SET s.status = 'ACTIVE', s.updatedAt = $now`,
		map[string]any{"source": sourceID, "target": targetID, "now": ms(time.Now())})
}

func (g *GraphEntityRepo) ResolveCanonicalID(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	rows, err := g.r.query(ctx, `
		MATCH (e:Entity {id: $id})
		MATCH (e)-[:MERGED_INTO*0..]->(x:Entity)
		WHERE NOT (x)-[:MERGED_INTO]->(:Entity)
		RETURN x.id AS id, x.status AS status
		LIMIT 1`,
		map[string]any{"id": id})
	if err != nil {
		return uuid.Nil, err
	}
	if len(rows) == 0 {
		return uuid.Nil, ErrNotFound
	}
	if model.EntityStatus(rowStr(rows[0], "status")) != model.EntityStatusActive {
		return uuid.Nil, ErrCorruptMergeChain
	}
	return rowUUID(rows[0], "id")
}

func (g *GraphEntityRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return g.r.exec(ctx, `
		MATCH (e:Entity {id: $id})
		SET e.deletedAt = $at, e.updatedAt = $at`,
		map[string]any{"id": id, "at": ms(at)})
}

func (g *GraphEntityRepo) PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := g.r.query(ctx, `
		MATCH (e:Entity)
		WHERE e.deletedAt IS NOT NULL AND e.deletedAt < $cutoff
		RETURN e.id AS id`,
		map[string]any{"cutoff": ms(cutoff)})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	// Attached synonyms and duplicates go with the entity; DETACH removes
	// every incident edge.
	err = g.r.exec(ctx, `
		MATCH (e:Entity)
		WHERE e.deletedAt IS NOT NULL AND e.deletedAt < $cutoff
		OPTIONAL MATCH (s:Synonym)-[:SYNONYM_OF]->(e)
		OPTIONAL MATCH (d:Duplicate)-[:DUPLICATE_OF]->(e)
		DETACH DELETE s, d, e`,
		map[string]any{"cutoff": ms(cutoff)})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
