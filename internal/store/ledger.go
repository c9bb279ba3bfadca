package store

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

const mergeReturn = `m.id AS id, m.sourceEntityId AS sourceEntityId,
	m.targetEntityId AS targetEntityId, m.sourceEntityName AS sourceEntityName,
	m.targetEntityName AS targetEntityName, m.confidenceScore AS confidenceScore,
	m.decision AS decision, m.triggeredBy AS triggeredBy,
	m.reasoning AS reasoning, m.timestamp AS timestamp`

// GraphLedgerRepo is the graph-backed merge ledger. Records are append-only:
// no update or delete path exists.
type GraphLedgerRepo struct {
	r runner
}

// NewGraphLedgerRepo creates the repo over the given pool.
func NewGraphLedgerRepo(pool *graph.Pool) *GraphLedgerRepo {
	return &GraphLedgerRepo{r: runner{pool: pool}}
}

func rowMergeRecord(row map[string]any) (*model.MergeRecord, error) {
	id, err := rowUUID(row, "id")
	if err != nil {
		return nil, err
	}
	src, err := rowUUID(row, "sourceEntityId")
	if err != nil {
		return nil, err
	}
	dst, err := rowUUID(row, "targetEntityId")
	if err != nil {
		return nil, err
	}
	return &model.MergeRecord{
		ID:               id,
		SourceEntityID:   src,
		TargetEntityID:   dst,
		SourceEntityName: rowStr(row, "sourceEntityName"),
		TargetEntityName: rowStr(row, "targetEntityName"),
		ConfidenceScore:  rowFloat(row, "confidenceScore"),
		Decision:         rowStr(row, "decision"),
		TriggeredBy:      rowStr(row, "triggeredBy"),
		Reasoning:        rowStr(row, "reasoning"),
		Timestamp:        rowTime(row, "timestamp"),
	}, nil
}

func (g *GraphLedgerRepo) Append(ctx context.Context, rec *model.MergeRecord) error {
	return g.r.exec(ctx, `
		CREATE (m:MergeRecord {id: $id, sourceEntityId: $sourceEntityId,
			targetEntityId: $targetEntityId, sourceEntityName: $sourceEntityName,
			targetEntityName: $targetEntityName, confidenceScore: $confidenceScore,
			decision: $decision, triggeredBy: $triggeredBy,
			reasoning: $reasoning, timestamp: $timestamp})`,
		map[string]any{
			"id":               rec.ID,
			"sourceEntityId":   rec.SourceEntityID,
			"targetEntityId":   rec.TargetEntityID,
			"sourceEntityName": rec.SourceEntityName,
			"targetEntityName": rec.TargetEntityName,
			"confidenceScore":  rec.ConfidenceScore,
			"decision":         rec.Decision,
			"triggeredBy":      rec.TriggeredBy,
			"reasoning":        rec.Reasoning,
			"timestamp":        ms(rec.Timestamp),
		})
}

func (g *GraphLedgerRepo) List(ctx context.Context, f model.MergeFilter) ([]*model.MergeRecord, error) {
	var clauses []string
	params := map[string]any{}
	if f.SourceEntityID != nil {
		clauses = append(clauses, "m.sourceEntityId = $source")
		params["source"] = *f.SourceEntityID
	}
	if f.TargetEntityID != nil {
		clauses = append(clauses, "m.targetEntityId = $target")
		params["target"] = *f.TargetEntityID
	}
	if f.TriggeredBy != "" {
		clauses = append(clauses, "m.triggeredBy = $triggeredBy")
		params["triggeredBy"] = f.TriggeredBy
	}
	if f.Decision != "" {
		clauses = append(clauses, "m.decision = $decision")
		params["decision"] = f.Decision
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "m.timestamp >= $from")
		params["from"] = ms(f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "m.timestamp < $to")
		params["to"] = ms(f.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := g.r.query(ctx, `
		MATCH (m:MergeRecord)
		`+where+`
		RETURN `+mergeReturn+`
		ORDER BY m.timestamp`,
		params)
	if err != nil {
		return nil, err
	}
	out := make([]*model.MergeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := rowMergeRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Chain walks merge lineage iteratively: every record touching the frontier
// extends it until no new entity ids appear.
func (g *GraphLedgerRepo) Chain(ctx context.Context, entityID uuid.UUID) ([]*model.MergeRecord, error) {
	visited := map[uuid.UUID]struct{}{entityID: {}}
	recorded := map[uuid.UUID]*model.MergeRecord{}
	frontier := []uuid.UUID{entityID}

	for len(frontier) > 0 {
		ids := make([]string, len(frontier))
		for i, id := range frontier {
			ids[i] = id.String()
		}
		rows, err := g.r.query(ctx, `
			MATCH (m:MergeRecord)
			WHERE m.sourceEntityId IN $ids OR m.targetEntityId IN $ids
			RETURN `+mergeReturn,
			map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, row := range rows {
			rec, err := rowMergeRecord(row)
			if err != nil {
				return nil, err
			}
			if _, ok := recorded[rec.ID]; ok {
				continue
			}
			recorded[rec.ID] = rec
			for _, id := range []uuid.UUID{rec.SourceEntityID, rec.TargetEntityID} {
				if _, ok := visited[id]; !ok {
					visited[id] = struct{}{}
					frontier = append(frontier, id)
				}
			}
		}
	}

	out := make([]*model.MergeRecord, 0, len(recorded))
	for _, rec := range recorded {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
