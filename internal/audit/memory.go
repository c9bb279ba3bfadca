package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/model"
)

// MemoryStore keeps the trail in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*model.AuditEntry
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.entries = append(s.entries, &c)
	return nil
}

func matches(e *model.AuditEntry, f model.AuditFilter) bool {
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}

func (s *MemoryStore) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.AuditEntry
	for _, e := range s.entries {
		if matches(e, f) {
			c := *e
			out = append(out, &c)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *MemoryStore) PageByEntity(ctx context.Context, entityID uuid.UUID, cursor string, limit int) ([]*model.AuditEntry, string, error) {
	afterTS, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var scoped []*model.AuditEntry
	for _, e := range s.entries {
		if e.EntityID == entityID {
			c := *e
			scoped = append(scoped, &c)
		}
	}
	sortEntries(scoped)
	if cursor != "" {
		// Keep entries strictly after the cursor position.
		filtered := scoped[:0:0]
		for _, e := range scoped {
			if !atOrBeforeCursor(e, afterTS, afterID) {
				filtered = append(filtered, e)
			}
		}
		scoped = filtered
	}
	return page(scoped, limit)
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

func sortEntries(entries []*model.AuditEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID.String() < entries[j].ID.String()
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

// atOrBeforeCursor reports whether e sits at or before the cursor position.
func atOrBeforeCursor(e *model.AuditEntry, afterTS int64, afterID string) bool {
	ts := e.Timestamp.UnixMilli()
	if ts != afterTS {
		return ts < afterTS
	}
	return e.ID.String() <= afterID
}

// page slices one page and builds the next-page cursor.
func page(entries []*model.AuditEntry, limit int) ([]*model.AuditEntry, string, error) {
	if limit <= 0 {
		limit = 100
	}
	if len(entries) <= limit {
		return entries, "", nil
	}
	pageEntries := entries[:limit]
	last := pageEntries[len(pageEntries)-1]
	return pageEntries, encodeCursor(last), nil
}

func encodeCursor(e *model.AuditEntry) string {
	return fmt.Sprintf("%d|%s", e.Timestamp.UnixMilli(), e.ID)
}

func decodeCursor(cursor string) (int64, string, error) {
	if cursor == "" {
		return 0, "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("audit: malformed cursor %q", cursor)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("audit: malformed cursor %q: %w", cursor, err)
	}
	return ts, parts[1], nil
}
