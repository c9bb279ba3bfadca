package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

const relReturn = `r.id AS id, a.id AS sourceId, b.id AS targetId, r.type AS type,
	r.propertiesJson AS propertiesJson, r.createdAt AS createdAt, r.createdBy AS createdBy`

// GraphRelationshipRepo is the graph-backed RelationshipRepo.
type GraphRelationshipRepo struct {
	r runner
}

// NewGraphRelationshipRepo creates the repo over the given pool.
func NewGraphRelationshipRepo(pool *graph.Pool) *GraphRelationshipRepo {
	return &GraphRelationshipRepo{r: runner{pool: pool}}
}

func rowRelationship(row map[string]any) (*model.Relationship, error) {
	id, err := rowUUID(row, "id")
	if err != nil {
		return nil, err
	}
	src, err := rowUUID(row, "sourceId")
	if err != nil {
		return nil, err
	}
	dst, err := rowUUID(row, "targetId")
	if err != nil {
		return nil, err
	}
	rel := &model.Relationship{
		ID:             id,
		SourceEntityID: src,
		TargetEntityID: dst,
		Type:           rowStr(row, "type"),
		CreatedAt:      rowTime(row, "createdAt"),
		CreatedBy:      rowStr(row, "createdBy"),
	}
	if raw := rowStr(row, "propertiesJson"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rel.Properties); err != nil {
			return nil, fmt.Errorf("store: decode relationship properties: %w", err)
		}
	}
	return rel, nil
}

func (g *GraphRelationshipRepo) Create(ctx context.Context, rel *model.Relationship) error {
	props := ""
	if len(rel.Properties) > 0 {
		raw, err := json.Marshal(rel.Properties)
		if err != nil {
			return fmt.Errorf("store: encode relationship properties: %w", err)
		}
		props = string(raw)
	}
	return g.r.exec(ctx, `
		MATCH (a:Entity {id: $sourceId}), (b:Entity {id: $targetId})
		CREATE (a)-[r:LIBRARY_REL {id: $id, type: $type,
			propertiesJson: $propertiesJson, createdAt: $createdAt,
			createdBy: $createdBy}]->(b)`,
		map[string]any{
			"sourceId":       rel.SourceEntityID,
			"targetId":       rel.TargetEntityID,
			"id":             rel.ID,
			"type":           rel.Type,
			"propertiesJson": props,
			"createdAt":      ms(rel.CreatedAt),
			"createdBy":      rel.CreatedBy,
		})
}

func (g *GraphRelationshipRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return g.r.exec(ctx, `
		MATCH ()-[r:LIBRARY_REL {id: $id}]->()
		DELETE r`,
		map[string]any{"id": id})
}

func (g *GraphRelationshipRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	rows, err := g.r.query(ctx, `
		MATCH (a:Entity)-[r:LIBRARY_REL]->(b:Entity)
		WHERE a.id = $id OR b.id = $id
		RETURN `+relReturn+`
		ORDER BY r.createdAt`,
		map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Relationship, 0, len(rows))
	for _, row := range rows {
		rel, err := rowRelationship(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

func (g *GraphRelationshipRepo) RewriteEndpoints(ctx context.Context, fromID, toID uuid.UUID) ([]RewrittenEndpoint, error) {
	rows, err := g.r.query(ctx, `
		MATCH (a:Entity)-[r:LIBRARY_REL]->(b:Entity)
		WHERE a.id = $from OR b.id = $from
		RETURN r.id AS id, a.id AS sourceId, b.id AS targetId`,
		map[string]any{"from": fromID})
	if err != nil {
		return nil, err
	}
	rewrites := make([]RewrittenEndpoint, 0, len(rows))
	for _, row := range rows {
		relID, err := rowUUID(row, "id")
		if err != nil {
			return nil, err
		}
		src, err := rowUUID(row, "sourceId")
		if err != nil {
			return nil, err
		}
		if src == fromID {
			rewrites = append(rewrites, RewrittenEndpoint{RelationshipID: relID, WasSource: true, PriorEntityID: fromID})
		} else {
			rewrites = append(rewrites, RewrittenEndpoint{RelationshipID: relID, WasSource: false, PriorEntityID: fromID})
		}
	}

	// Relationships cannot be repointed in place: recreate with identical
	// properties on the new endpoint, then drop the old edge.
	err = g.r.exec(ctx, `
		MATCH (a:Entity {id: $from})-[r:LIBRARY_REL]->(b:Entity)
		MATCH (t:Entity {id: $to})
		CREATE (t)-[r2:LIBRARY_REL]->(b)
		SET r2 = properties(r)
		DELETE r`,
		map[string]any{"from": fromID, "to": toID})
	if err != nil {
		return nil, err
	}
	err = g.r.exec(ctx, `
		MATCH (a:Entity)-[r:LIBRARY_REL]->(b:Entity {id: $from})
		MATCH (t:Entity {id: $to})
		CREATE (a)-[r2:LIBRARY_REL]->(t)
		SET r2 = properties(r)
		DELETE r`,
		map[string]any{"from": fromID, "to": toID})
	if err != nil {
		return nil, err
	}
	return rewrites, nil
}

func (g *GraphRelationshipRepo) RestoreEndpoints(ctx context.Context, rewrites []RewrittenEndpoint) error {
	for _, rw := range rewrites {
		var stmt string
		if rw.WasSource {
			stmt = `
				MATCH (a:Entity)-[r:LIBRARY_REL {id: $relId}]->(b:Entity)
				MATCH (p:Entity {id: $prior})
				CREATE (p)-[r2:LIBRARY_REL]->(b)
				SET r2 = properties(r)
				DELETE r`
		} else {
			stmt = `
				MATCH (a:Entity)-[r:LIBRARY_REL {id: $relId}]->(b:Entity)
				MATCH (p:Entity {id: $prior})
				CREATE (a)-[r2:LIBRARY_REL]->(p)
				SET r2 = properties(r)
				DELETE r`
		}
		err := g.r.exec(ctx, stmt, map[string]any{"relId": rw.RelationshipID, "prior": rw.PriorEntityID})
		if err != nil {
			return fmt.Errorf("store: restore relationship %s: %w", rw.RelationshipID, err)
		}
	}
	return nil
}
