package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/model"
)

// memRelationships implements RelationshipRepo.
type memRelationships struct{ m *Memory }

func (r *memRelationships) Create(ctx context.Context, rel *model.Relationship) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[rel.SourceEntityID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.entities[rel.TargetEntityID]; !ok {
		return ErrNotFound
	}
	m.relationships[rel.ID] = copyRelationship(rel)
	return nil
}

func (r *memRelationships) Delete(ctx context.Context, id uuid.UUID) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.relationships[id]; !ok {
		return ErrNotFound
	}
	delete(m.relationships, id)
	return nil
}

func (r *memRelationships) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Relationship
	for _, rel := range m.relationships {
		if rel.SourceEntityID == entityID || rel.TargetEntityID == entityID {
			out = append(out, copyRelationship(rel))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRelationships) RewriteEndpoints(ctx context.Context, fromID, toID uuid.UUID) ([]RewrittenEndpoint, error) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	var rewrites []RewrittenEndpoint
	for _, rel := range m.relationships {
		if rel.SourceEntityID == fromID {
			rel.SourceEntityID = toID
			rewrites = append(rewrites, RewrittenEndpoint{RelationshipID: rel.ID, WasSource: true, PriorEntityID: fromID})
		}
		if rel.TargetEntityID == fromID {
			rel.TargetEntityID = toID
			rewrites = append(rewrites, RewrittenEndpoint{RelationshipID: rel.ID, WasSource: false, PriorEntityID: fromID})
		}
	}
	return rewrites, nil
}

func (r *memRelationships) RestoreEndpoints(ctx context.Context, rewrites []RewrittenEndpoint) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rw := range rewrites {
		rel, ok := m.relationships[rw.RelationshipID]
		if !ok {
			continue
		}
		if rw.WasSource {
			rel.SourceEntityID = rw.PriorEntityID
		} else {
			rel.TargetEntityID = rw.PriorEntityID
		}
	}
	return nil
}

// memDecisions implements DecisionRepo.
type memDecisions struct{ m *Memory }

func (r *memDecisions) CreateMatchDecision(ctx context.Context, d *model.MatchDecision) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	if d.CandidateEntityID != nil {
		id := *d.CandidateEntityID
		c.CandidateEntityID = &id
	}
	m.decisions[d.ID] = &c
	return nil
}

func (r *memDecisions) CreateReviewDecision(ctx context.Context, d *model.ReviewDecision, matchDecisionID *uuid.UUID) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	m.reviewDecs[d.ID] = &c
	if matchDecisionID != nil {
		m.reviewLinks[d.ID] = *matchDecisionID
	}
	return nil
}

func (r *memDecisions) ListMatchDecisionsByCandidate(ctx context.Context, candidateEntityID uuid.UUID) ([]*model.MatchDecision, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.MatchDecision
	for _, d := range m.decisions {
		if d.CandidateEntityID != nil && *d.CandidateEntityID == candidateEntityID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// memReviews implements ReviewRepo.
type memReviews struct{ m *Memory }

func (r *memReviews) Create(ctx context.Context, item *model.ReviewItem) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *item
	m.reviews[item.ID] = &c
	return nil
}

func (r *memReviews) Get(ctx context.Context, id uuid.UUID) (*model.ReviewItem, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *item
	return &c, nil
}

func (r *memReviews) ListPending(ctx context.Context, limit, offset int) ([]*model.ReviewItem, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ReviewItem
	for _, item := range m.reviews {
		if item.Status == model.ReviewStatusPending {
			c := *item
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memReviews) Resolve(ctx context.Context, id uuid.UUID, status model.ReviewStatus, reviewerID, notes string, at time.Time) (*model.ReviewItem, error) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	if item.Status != model.ReviewStatusPending {
		return nil, ErrReviewState
	}
	at = at.UTC()
	item.Status = status
	item.ReviewedAt = &at
	item.ReviewerID = reviewerID
	item.Notes = notes
	c := *item
	return &c, nil
}

// memLedger implements LedgerRepo.
type memLedger struct{ m *Memory }

func (r *memLedger) Append(ctx context.Context, rec *model.MergeRecord) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	m.ledger = append(m.ledger, &c)
	return nil
}

func (r *memLedger) List(ctx context.Context, f model.MergeFilter) ([]*model.MergeRecord, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.MergeRecord
	for _, rec := range m.ledger {
		if f.SourceEntityID != nil && rec.SourceEntityID != *f.SourceEntityID {
			continue
		}
		if f.TargetEntityID != nil && rec.TargetEntityID != *f.TargetEntityID {
			continue
		}
		if f.TriggeredBy != "" && rec.TriggeredBy != f.TriggeredBy {
			continue
		}
		if f.Decision != "" && rec.Decision != f.Decision {
			continue
		}
		if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !rec.Timestamp.Before(f.To) {
			continue
		}
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *memLedger) Chain(ctx context.Context, entityID uuid.UUID) ([]*model.MergeRecord, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	visited := map[uuid.UUID]struct{}{entityID: {}}
	recorded := map[uuid.UUID]*model.MergeRecord{}
	changed := true
	for changed {
		changed = false
		for _, rec := range m.ledger {
			if _, ok := recorded[rec.ID]; ok {
				continue
			}
			_, srcIn := visited[rec.SourceEntityID]
			_, dstIn := visited[rec.TargetEntityID]
			if !srcIn && !dstIn {
				continue
			}
			c := *rec
			recorded[rec.ID] = &c
			visited[rec.SourceEntityID] = struct{}{}
			visited[rec.TargetEntityID] = struct{}{}
			changed = true
		}
	}
	out := make([]*model.MergeRecord, 0, len(recorded))
	for _, rec := range recorded {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
