package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

const reviewReturn = `r.id AS id, r.sourceEntityId AS sourceEntityId,
	r.candidateEntityId AS candidateEntityId, r.sourceEntityName AS sourceEntityName,
	r.candidateEntityName AS candidateEntityName, r.entityType AS entityType,
	r.similarityScore AS similarityScore, r.status AS status,
	r.submittedAt AS submittedAt, r.reviewedAt AS reviewedAt,
	r.reviewerId AS reviewerId, r.notes AS notes`

// GraphReviewRepo is the graph-backed ReviewRepo.
type GraphReviewRepo struct {
	r runner
}

// NewGraphReviewRepo creates the repo over the given pool.
func NewGraphReviewRepo(pool *graph.Pool) *GraphReviewRepo {
	return &GraphReviewRepo{r: runner{pool: pool}}
}

func rowReviewItem(row map[string]any) (*model.ReviewItem, error) {
	id, err := rowUUID(row, "id")
	if err != nil {
		return nil, err
	}
	src, err := rowUUID(row, "sourceEntityId")
	if err != nil {
		return nil, err
	}
	cand, err := rowUUID(row, "candidateEntityId")
	if err != nil {
		return nil, err
	}
	return &model.ReviewItem{
		ID:                  id,
		SourceEntityID:      src,
		CandidateEntityID:   cand,
		SourceEntityName:    rowStr(row, "sourceEntityName"),
		CandidateEntityName: rowStr(row, "candidateEntityName"),
		EntityType:          model.EntityType(rowStr(row, "entityType")),
		SimilarityScore:     rowFloat(row, "similarityScore"),
		Status:              model.ReviewStatus(rowStr(row, "status")),
		SubmittedAt:         rowTime(row, "submittedAt"),
		ReviewedAt:          rowTimePtr(row, "reviewedAt"),
		ReviewerID:          rowStr(row, "reviewerId"),
		Notes:               rowStr(row, "notes"),
	}, nil
}

func (g *GraphReviewRepo) Create(ctx context.Context, item *model.ReviewItem) error {
	return g.r.exec(ctx, `
		CREATE (r:ReviewItem {id: $id, sourceEntityId: $sourceEntityId,
			candidateEntityId: $candidateEntityId, sourceEntityName: $sourceEntityName,
			candidateEntityName: $candidateEntityName, entityType: $entityType,
			similarityScore: $similarityScore, status: $status,
			submittedAt: $submittedAt})`,
		map[string]any{
			"id":                  item.ID,
			"sourceEntityId":      item.SourceEntityID,
			"candidateEntityId":   item.CandidateEntityID,
			"sourceEntityName":    item.SourceEntityName,
			"candidateEntityName": item.CandidateEntityName,
			"entityType":          string(item.EntityType),
			"similarityScore":     item.SimilarityScore,
			"status":              string(item.Status),
			"submittedAt":         ms(item.SubmittedAt),
		})
}

func (g *GraphReviewRepo) Get(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error) {
	rows, err := g.r.query(ctx, `
		MATCH (r:ReviewItem {id: $id})
		RETURN `+reviewReturn+`
		LIMIT 1`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rowReviewItem(rows[0])
}

func (g *GraphReviewRepo) ListPending(ctx context.Context, limit, offset int) ([]*model.ReviewItem, error) {
	rows, err := g.r.query(ctx, `
		MATCH (r:ReviewItem {status: 'PENDING'})
		RETURN `+reviewReturn+`
		ORDER BY r.submittedAt
		SKIP $offset LIMIT $limit`,
		map[string]any{"limit": int64(limit), "offset": int64(offset)})
	if err != nil {
		return nil, err
	}
	out := make([]*model.ReviewItem, 0, len(rows))
	for _, row := range rows {
		item, err := rowReviewItem(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (g *GraphReviewRepo) Resolve(ctx context.Context, id uuid.UUID, status model.ReviewStatus, reviewerID, notes string, at time.Time) (*model.ReviewItem, error) {
	// Conditional update: only a PENDING item takes the transition. The
	// re-read below distinguishes "not found", "already resolved", and
	// "we won".
	err := g.r.exec(ctx, `
		MATCH (r:ReviewItem {id: $id, status: 'PENDING'})
		SET r.status = $status, r.reviewedAt = $at,
			r.reviewerId = $reviewerId, r.notes = $notes`,
		map[string]any{
			"id":         id,
			"status":     string(status),
			"at":         ms(at),
			"reviewerId": reviewerID,
			"notes":      notes,
		})
	if err != nil {
		return nil, err
	}
	item, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != status || item.ReviewerID != reviewerID ||
		item.ReviewedAt == nil || !item.ReviewedAt.Equal(ms2t(at)) {
		return nil, ErrReviewState
	}
	return item, nil
}

// ms2t round-trips a time through the stored precision so equality checks
// compare like with like.
func ms2t(t time.Time) time.Time { return fromMS(ms(t)) }
