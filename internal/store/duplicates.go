package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

// GraphDuplicateRepo is the graph-backed DuplicateRepo.
type GraphDuplicateRepo struct {
	r runner
}

// NewGraphDuplicateRepo creates the repo over the given pool.
func NewGraphDuplicateRepo(pool *graph.Pool) *GraphDuplicateRepo {
	return &GraphDuplicateRepo{r: runner{pool: pool}}
}

func (g *GraphDuplicateRepo) Create(ctx context.Context, d *model.Duplicate) error {
	return g.r.exec(ctx, `
		MATCH (e:Entity {id: $entityId})
		CREATE (d:Duplicate {id: $id, originalName: $originalName,
			normalizedName: $normalizedName, sourceSystem: $sourceSystem,
			createdAt: $createdAt})
		CREATE (d)-[:DUPLICATE_OF]->(e)`,
		map[string]any{
			"entityId":       d.EntityID,
			"id":             d.ID,
			"originalName":   d.OriginalName,
			"normalizedName": d.NormalizedName,
			"sourceSystem":   d.SourceSystem,
			"createdAt":      ms(d.CreatedAt),
		})
}

func (g *GraphDuplicateRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return g.r.exec(ctx, `
		MATCH (d:Duplicate {id: $id})
		DETACH DELETE d`,
		map[string]any{"id": id})
}

func (g *GraphDuplicateRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Duplicate, error) {
	rows, err := g.r.query(ctx, `
		MATCH (d:Duplicate)-[:DUPLICATE_OF]->(e:Entity {id: $entityId})
		RETURN d.id AS id, d.originalName AS originalName,
			d.normalizedName AS normalizedName, d.sourceSystem AS sourceSystem,
			d.createdAt AS createdAt, e.id AS entityId
		ORDER BY d.createdAt`,
		map[string]any{"entityId": entityID})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Duplicate, 0, len(rows))
	for _, row := range rows {
		id, err := rowUUID(row, "id")
		if err != nil {
			return nil, err
		}
		eid, err := rowUUID(row, "entityId")
		if err != nil {
			return nil, err
		}
		out = append(out, &model.Duplicate{
			ID:             id,
			OriginalName:   rowStr(row, "originalName"),
			NormalizedName: rowStr(row, "normalizedName"),
			SourceSystem:   rowStr(row, "sourceSystem"),
			CreatedAt:      rowTime(row, "createdAt"),
			EntityID:       eid,
		})
	}
	return out, nil
}
