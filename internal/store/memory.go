package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/model"
)

// Memory is an in-memory implementation of every repository, contract
// equivalent to the graph-backed ones. It backs tests and embedded runs
// that don't want a database. Access through Repos(); the per-aggregate
// views share one lock and one state.
type Memory struct {
	mu sync.RWMutex

	entities      map[uuid.UUID]*model.Entity
	mergedInto    map[uuid.UUID]uuid.UUID
	blockingKeys  map[string]map[uuid.UUID]struct{}
	entityKeys    map[uuid.UUID][]string
	synonyms      map[uuid.UUID]*model.Synonym
	duplicates    map[uuid.UUID]*model.Duplicate
	relationships map[uuid.UUID]*model.Relationship
	decisions     map[uuid.UUID]*model.MatchDecision
	reviewDecs    map[uuid.UUID]*model.ReviewDecision
	reviewLinks   map[uuid.UUID]uuid.UUID // ReviewDecision id -> MatchDecision id
	reviews       map[uuid.UUID]*model.ReviewItem
	ledger        []*model.MergeRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities:      make(map[uuid.UUID]*model.Entity),
		mergedInto:    make(map[uuid.UUID]uuid.UUID),
		blockingKeys:  make(map[string]map[uuid.UUID]struct{}),
		entityKeys:    make(map[uuid.UUID][]string),
		synonyms:      make(map[uuid.UUID]*model.Synonym),
		duplicates:    make(map[uuid.UUID]*model.Duplicate),
		relationships: make(map[uuid.UUID]*model.Relationship),
		decisions:     make(map[uuid.UUID]*model.MatchDecision),
		reviewDecs:    make(map[uuid.UUID]*model.ReviewDecision),
		reviewLinks:   make(map[uuid.UUID]uuid.UUID),
		reviews:       make(map[uuid.UUID]*model.ReviewItem),
	}
}

// Repos returns the per-aggregate repository views over this store.
func (m *Memory) Repos() Repos {
	return Repos{
		Entities:      &memEntities{m},
		Synonyms:      &memSynonyms{m},
		Duplicates:    &memDuplicates{m},
		Relationships: &memRelationships{m},
		Decisions:     &memDecisions{m},
		Reviews:       &memReviews{m},
		Ledger:        &memLedger{m},
	}
}

func copyEntity(e *model.Entity) *model.Entity {
	c := *e
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func copySynonym(s *model.Synonym) *model.Synonym {
	c := *s
	return &c
}

func copyRelationship(r *model.Relationship) *model.Relationship {
	c := *r
	if r.Properties != nil {
		c.Properties = make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// memEntities implements EntityRepo.
type memEntities struct{ m *Memory }

func (r *memEntities) Create(ctx context.Context, e *model.Entity, blockingKeys []string) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = copyEntity(e)
	m.entityKeys[e.ID] = append([]string(nil), blockingKeys...)
	for _, k := range blockingKeys {
		set, ok := m.blockingKeys[k]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			m.blockingKeys[k] = set
		}
		set[e.ID] = struct{}{}
	}
	return nil
}

func (r *memEntities) GetByID(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok || e.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return copyEntity(e), nil
}

func (r *memEntities) FindActiveByNormalized(ctx context.Context, normalized string, t model.EntityType) (*model.Entity, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entities {
		if e.Status == model.EntityStatusActive && e.DeletedAt == nil &&
			e.NormalizedName == normalized && e.Type == t {
			return copyEntity(e), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memEntities) FindCandidatesByBlockingKeys(ctx context.Context, keys []string, t model.EntityType) ([]*model.Entity, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var out []*model.Entity
	for _, k := range keys {
		for id := range m.blockingKeys[k] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			e := m.entities[id]
			if e == nil || e.Status != model.EntityStatusActive || e.DeletedAt != nil || e.Type != t {
				continue
			}
			out = append(out, copyEntity(e))
		}
	}
	return out, nil
}

func (r *memEntities) ScanActiveByType(ctx context.Context, t model.EntityType, limit int) ([]*model.Entity, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Entity
	for _, e := range m.entities {
		if e.Status == model.EntityStatusActive && e.DeletedAt == nil && e.Type == t {
			out = append(out, copyEntity(e))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memEntities) MarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[sourceID]
	if !ok {
		return ErrNotFound
	}
	e.Status = model.EntityStatusMerged
	e.UpdatedAt = time.Now().UTC()
	m.mergedInto[sourceID] = targetID
	return nil
}

func (r *memEntities) UnmarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[sourceID]
	if !ok {
		return ErrNotFound
	}
	e.Status = model.EntityStatusActive
	e.UpdatedAt = time.Now().UTC()
	delete(m.mergedInto, sourceID)
	return nil
}

func (r *memEntities) ResolveCanonicalID(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	current := id
	if _, ok := m.entities[current]; !ok {
		return uuid.Nil, ErrNotFound
	}
	for range len(m.mergedInto) + 1 {
		next, ok := m.mergedInto[current]
		if !ok {
			e := m.entities[current]
			if e == nil || e.Status != model.EntityStatusActive {
				return uuid.Nil, ErrCorruptMergeChain
			}
			return current, nil
		}
		current = next
	}
	return uuid.Nil, ErrCorruptMergeChain
}

func (r *memEntities) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	e.DeletedAt = &at
	e.UpdatedAt = at
	return nil
}

func (r *memEntities) PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, e := range m.entities {
		if e.DeletedAt == nil || !e.DeletedAt.Before(cutoff) {
			continue
		}
		delete(m.entities, id)
		delete(m.mergedInto, id)
		for _, k := range m.entityKeys[id] {
			delete(m.blockingKeys[k], id)
		}
		delete(m.entityKeys, id)
		for sid, s := range m.synonyms {
			if s.EntityID == id {
				delete(m.synonyms, sid)
			}
		}
		for did, d := range m.duplicates {
			if d.EntityID == id {
				delete(m.duplicates, did)
			}
		}
		for rid, rel := range m.relationships {
			if rel.SourceEntityID == id || rel.TargetEntityID == id {
				delete(m.relationships, rid)
			}
		}
		purged++
	}
	return purged, nil
}

// memSynonyms implements SynonymRepo.
type memSynonyms struct{ m *Memory }

func (r *memSynonyms) Create(ctx context.Context, s *model.Synonym) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[s.EntityID]; !ok {
		return ErrNotFound
	}
	m.synonyms[s.ID] = copySynonym(s)
	return nil
}

func (r *memSynonyms) Delete(ctx context.Context, id uuid.UUID) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.synonyms, id)
	return nil
}

func (r *memSynonyms) FindByNormalizedValue(ctx context.Context, normalized string, t model.EntityType) ([]*model.Synonym, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Synonym
	for _, s := range m.synonyms {
		if s.NormalizedValue != normalized {
			continue
		}
		e := m.entities[s.EntityID]
		if e == nil || e.Status != model.EntityStatusActive || e.DeletedAt != nil || e.Type != t {
			continue
		}
		out = append(out, copySynonym(s))
	}
	return out, nil
}

func (r *memSynonyms) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Synonym, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Synonym
	for _, s := range m.synonyms {
		if s.EntityID == entityID {
			out = append(out, copySynonym(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memSynonyms) Update(ctx context.Context, s *model.Synonym) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.synonyms[s.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Confidence = s.Confidence
	existing.SupportCount = s.SupportCount
	existing.LastConfirmedAt = s.LastConfirmedAt
	return nil
}

// memDuplicates implements DuplicateRepo.
type memDuplicates struct{ m *Memory }

func (r *memDuplicates) Create(ctx context.Context, d *model.Duplicate) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[d.EntityID]; !ok {
		return ErrNotFound
	}
	c := *d
	m.duplicates[d.ID] = &c
	return nil
}

func (r *memDuplicates) Delete(ctx context.Context, id uuid.UUID) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.duplicates, id)
	return nil
}

func (r *memDuplicates) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Duplicate, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Duplicate
	for _, d := range m.duplicates {
		if d.EntityID == entityID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
