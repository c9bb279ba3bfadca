// Package audit provides the append-only audit trail. Storage is pluggable:
// in-memory, graph-backed, and embedded SQLite implementations are
// contract-equivalent.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/model"
)

// Store is the audit persistence contract. Entries are append-only.
type Store interface {
	Append(ctx context.Context, e *model.AuditEntry) error
	Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error)

	// PageByEntity returns one entity-scoped page ordered by timestamp
	// ascending. The cursor is the opaque next-page token from the prior
	// call; empty starts from the beginning. An empty returned cursor
	// means no further pages.
	PageByEntity(ctx context.Context, entityID uuid.UUID, cursor string, limit int) ([]*model.AuditEntry, string, error)

	Close(ctx context.Context) error
}

// Service records audit events. Failures are logged and swallowed: an audit
// hiccup must never fail the operation it describes.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a service over a store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Record appends one entry. The returned entry carries its assigned id and
// timestamp; nil means the write failed (and was logged).
func (s *Service) Record(ctx context.Context, action model.AuditAction, entityID uuid.UUID, actorID string, details map[string]any) *model.AuditEntry {
	e := &model.AuditEntry{
		ID:        uuid.New(),
		Action:    action,
		EntityID:  entityID,
		ActorID:   actorID,
		Details:   details,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.Append(ctx, e); err != nil {
		s.logger.Warn("audit: append failed", "action", action, "entity_id", entityID, "error", err)
		return nil
	}
	return e
}

// Query filters the trail.
func (s *Service) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	return s.store.Query(ctx, f)
}

// PageByEntity pages one entity's trail, oldest first.
func (s *Service) PageByEntity(ctx context.Context, entityID uuid.UUID, cursor string, limit int) ([]*model.AuditEntry, string, error) {
	return s.store.PageByEntity(ctx, entityID, cursor, limit)
}
