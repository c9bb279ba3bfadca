package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

// GraphDecisionRepo is the graph-backed DecisionRepo. Decision nodes are
// write-once; no update path exists.
type GraphDecisionRepo struct {
	r runner
}

// NewGraphDecisionRepo creates the repo over the given pool.
func NewGraphDecisionRepo(pool *graph.Pool) *GraphDecisionRepo {
	return &GraphDecisionRepo{r: runner{pool: pool}}
}

func (g *GraphDecisionRepo) CreateMatchDecision(ctx context.Context, d *model.MatchDecision) error {
	params := map[string]any{
		"id":                 d.ID,
		"inputEntityTempId":  d.InputEntityTempID,
		"entityType":         string(d.EntityType),
		"levenshteinScore":   d.LevenshteinScore,
		"jaroWinklerScore":   d.JaroWinklerScore,
		"jaccardScore":       d.JaccardScore,
		"finalScore":         d.FinalScore,
		"autoMergeThreshold": d.AutoMergeThreshold,
		"synonymThreshold":   d.SynonymThreshold,
		"reviewThreshold":    d.ReviewThreshold,
		"outcome":            string(d.Outcome),
		"evaluator":          d.Evaluator,
		"timestamp":          ms(d.Timestamp),
	}
	if d.CandidateEntityID != nil {
		params["candidateEntityId"] = *d.CandidateEntityID
	} else {
		params["candidateEntityId"] = nil
	}
	return g.r.exec(ctx, `
		CREATE (d:MatchDecision {id: $id, inputEntityTempId: $inputEntityTempId,
			candidateEntityId: $candidateEntityId, entityType: $entityType,
			levenshteinScore: $levenshteinScore, jaroWinklerScore: $jaroWinklerScore,
			jaccardScore: $jaccardScore, finalScore: $finalScore,
			autoMergeThreshold: $autoMergeThreshold, synonymThreshold: $synonymThreshold,
			reviewThreshold: $reviewThreshold, outcome: $outcome,
			evaluator: $evaluator, timestamp: $timestamp})`,
		params)
}

func (g *GraphDecisionRepo) CreateReviewDecision(ctx context.Context, d *model.ReviewDecision, matchDecisionID *uuid.UUID) error {
	err := g.r.exec(ctx, `
		CREATE (rd:ReviewDecision {id: $id, reviewId: $reviewId, action: $action,
			reviewerId: $reviewerId, rationale: $rationale, decidedAt: $decidedAt})`,
		map[string]any{
			"id":         d.ID,
			"reviewId":   d.ReviewID,
			"action":     string(d.Action),
			"reviewerId": d.ReviewerID,
			"rationale":  d.Rationale,
			"decidedAt":  ms(d.DecidedAt),
		})
	if err != nil {
		return err
	}
	if matchDecisionID == nil {
		return nil
	}
	return g.r.exec(ctx, `
		MATCH (md:MatchDecision {id: $matchId}), (rd:ReviewDecision {id: $reviewDecisionId})
		MERGE (md)-[:RESULTED_IN]->(rd)`,
		map[string]any{"matchId": *matchDecisionID, "reviewDecisionId": d.ID})
}

func (g *GraphDecisionRepo) ListMatchDecisionsByCandidate(ctx context.Context, candidateEntityID uuid.UUID) ([]*model.MatchDecision, error) {
	rows, err := g.r.query(ctx, `
		MATCH (d:MatchDecision {candidateEntityId: $id})
		RETURN d.id AS id, d.inputEntityTempId AS inputEntityTempId,
			d.candidateEntityId AS candidateEntityId, d.entityType AS entityType,
			d.levenshteinScore AS levenshteinScore, d.jaroWinklerScore AS jaroWinklerScore,
			d.jaccardScore AS jaccardScore, d.finalScore AS finalScore,
			d.autoMergeThreshold AS autoMergeThreshold, d.synonymThreshold AS synonymThreshold,
			d.reviewThreshold AS reviewThreshold, d.outcome AS outcome,
			d.evaluator AS evaluator, d.timestamp AS timestamp
		ORDER BY d.timestamp`,
		map[string]any{"id": candidateEntityID})
	if err != nil {
		return nil, err
	}
	out := make([]*model.MatchDecision, 0, len(rows))
	for _, row := range rows {
		id, err := rowUUID(row, "id")
		if err != nil {
			return nil, err
		}
		out = append(out, &model.MatchDecision{
			ID:                 id,
			InputEntityTempID:  rowStr(row, "inputEntityTempId"),
			CandidateEntityID:  rowUUIDPtr(row, "candidateEntityId"),
			EntityType:         model.EntityType(rowStr(row, "entityType")),
			LevenshteinScore:   rowFloat(row, "levenshteinScore"),
			JaroWinklerScore:   rowFloat(row, "jaroWinklerScore"),
			JaccardScore:       rowFloat(row, "jaccardScore"),
			FinalScore:         rowFloat(row, "finalScore"),
			AutoMergeThreshold: rowFloat(row, "autoMergeThreshold"),
			SynonymThreshold:   rowFloat(row, "synonymThreshold"),
			ReviewThreshold:    rowFloat(row, "reviewThreshold"),
			Outcome:            model.Outcome(rowStr(row, "outcome")),
			Evaluator:          rowStr(row, "evaluator"),
			Timestamp:          rowTime(row, "timestamp"),
		})
	}
	return out, nil
}
