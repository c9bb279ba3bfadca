package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/merge"
	"github.com/ashita-ai/musubi/internal/model"
)

// ApproveReview confirms a pending pairing: the source entity is merged
// into the candidate (or, when the entity was held pending review, the
// source name is attached as a synonym), every synonym of the candidate is
// reinforced, and an APPROVE ReviewDecision is recorded.
func (p *Pipeline) ApproveReview(ctx context.Context, reviewID uuid.UUID, reviewerID, rationale string) (*model.ReviewItem, error) {
	item, err := p.repos.Reviews.Resolve(ctx, reviewID, model.ReviewStatusApproved, reviewerID, rationale, p.now())
	if err != nil {
		return nil, err
	}

	if item.SourceEntityID != uuid.Nil {
		_, err = p.merger.Merge(ctx, merge.Request{
			SourceID:     item.SourceEntityID,
			TargetID:     item.CandidateEntityID,
			Score:        item.SimilarityScore,
			Decision:     "REVIEW_APPROVED",
			TriggeredBy:  reviewerID,
			Reasoning:    rationale,
			SourceSystem: p.opts.SourceSystem,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve: approve review %s: %w", reviewID, err)
		}
	} else if candidate, err := p.repos.Entities.GetByID(ctx, item.CandidateEntityID); err == nil {
		normalized := p.normalizer.Normalize(item.SourceEntityName, item.EntityType)
		if _, err := p.ensureSynonym(ctx, candidate, strings.TrimSpace(item.SourceEntityName), normalized, model.SynonymSourceHuman, item.SimilarityScore); err != nil {
			return nil, err
		}
	}

	// A human confirmation is positive evidence for every name attached to
	// the surviving entity.
	if err := p.reinforceSynonyms(ctx, item.CandidateEntityID); err != nil {
		return nil, err
	}

	p.recordReviewDecision(ctx, item, model.ReviewActionApprove, reviewerID, rationale)
	p.audit(ctx, model.AuditReviewApproved, item.CandidateEntityID, map[string]any{
		"review_id": item.ID.String(),
		"reviewer":  reviewerID,
	})
	return item, nil
}

// RejectReview confirms the pair as distinct: every synonym of the
// candidate takes a small negative reinforcement, a held entity (if any)
// is materialized now, and a REJECT ReviewDecision is recorded.
func (p *Pipeline) RejectReview(ctx context.Context, reviewID uuid.UUID, reviewerID, rationale string) (*model.ReviewItem, error) {
	item, err := p.repos.Reviews.Resolve(ctx, reviewID, model.ReviewStatusRejected, reviewerID, rationale, p.now())
	if err != nil {
		return nil, err
	}

	synonyms, err := p.repos.Synonyms.ListByEntity(ctx, item.CandidateEntityID)
	if err != nil {
		return nil, fmt.Errorf("resolve: list candidate synonyms: %w", err)
	}
	for _, s := range synonyms {
		p.decayModel.NegativeReinforce(s, rejectionPenalty)
		if err := p.repos.Synonyms.Update(ctx, s); err != nil {
			return nil, fmt.Errorf("resolve: weaken synonym %s: %w", s.ID, err)
		}
	}

	// A held entity is real after all: it names something distinct.
	if item.SourceEntityID == uuid.Nil && p.opts.HoldEntityOnReview {
		normalized := p.normalizer.Normalize(item.SourceEntityName, item.EntityType)
		if normalized != "" {
			if _, err := p.createEntity(ctx, item.SourceEntityName, normalized, item.EntityType, 1.0); err != nil {
				return nil, err
			}
		}
	}

	p.recordReviewDecision(ctx, item, model.ReviewActionReject, reviewerID, rationale)
	p.audit(ctx, model.AuditReviewRejected, item.CandidateEntityID, map[string]any{
		"review_id": item.ID.String(),
		"reviewer":  reviewerID,
	})
	return item, nil
}

// rejectionPenalty is the confidence subtracted from each candidate
// synonym on rejection.
const rejectionPenalty = 0.05

func (p *Pipeline) reinforceSynonyms(ctx context.Context, entityID uuid.UUID) error {
	synonyms, err := p.repos.Synonyms.ListByEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("resolve: list synonyms: %w", err)
	}
	now := p.now().UTC()
	for _, s := range synonyms {
		p.decayModel.Reinforce(s, now)
		if err := p.repos.Synonyms.Update(ctx, s); err != nil {
			return fmt.Errorf("resolve: reinforce synonym %s: %w", s.ID, err)
		}
	}
	return nil
}

// recordReviewDecision persists the immutable human verdict, linked to the
// originating MatchDecision when one can be found. Failures are logged:
// provenance must not undo an already-applied verdict.
func (p *Pipeline) recordReviewDecision(ctx context.Context, item *model.ReviewItem, action model.ReviewAction, reviewerID, rationale string) {
	dec := &model.ReviewDecision{
		ID:         uuid.New(),
		ReviewID:   item.ID,
		Action:     action,
		ReviewerID: reviewerID,
		Rationale:  rationale,
		DecidedAt:  p.now().UTC(),
	}
	var matchID *uuid.UUID
	if decisions, err := p.repos.Decisions.ListMatchDecisionsByCandidate(ctx, item.CandidateEntityID); err == nil {
		for i := len(decisions) - 1; i >= 0; i-- {
			if decisions[i].Outcome == model.OutcomeReview {
				id := decisions[i].ID
				matchID = &id
				break
			}
		}
	}
	if err := p.repos.Decisions.CreateReviewDecision(ctx, dec, matchID); err != nil {
		p.logger.Warn("resolve: record review decision failed",
			"review_id", item.ID, "action", action, "error", err)
	}
}

// ListPendingReviews pages the review queue, oldest first.
func (p *Pipeline) ListPendingReviews(ctx context.Context, limit, offset int) ([]*model.ReviewItem, error) {
	return p.repos.Reviews.ListPending(ctx, limit, offset)
}
