package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
	"github.com/ashita-ai/musubi/internal/model"
)

const auditReturn = `a.id AS id, a.action AS action, a.entityId AS entityId,
	a.actorId AS actorId, a.detailsJson AS detailsJson, a.timestamp AS timestamp`

// GraphStore persists the trail as (:AuditEntry) nodes.
type GraphStore struct {
	pool *graph.Pool
}

// NewGraphStore creates the graph-backed audit store.
func NewGraphStore(pool *graph.Pool) *GraphStore {
	return &GraphStore{pool: pool}
}

func (s *GraphStore) Append(ctx context.Context, e *model.AuditEntry) error {
	details := ""
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("audit: encode details: %w", err)
		}
		details = string(raw)
	}
	return s.pool.WithConn(ctx, func(st graph.Store) error {
		return st.Execute(ctx, `
			CREATE (a:AuditEntry {id: $id, action: $action, entityId: $entityId,
				actorId: $actorId, detailsJson: $detailsJson, timestamp: $timestamp})`,
			map[string]any{
				"id":          e.ID,
				"action":      string(e.Action),
				"entityId":    e.EntityID,
				"actorId":     e.ActorID,
				"detailsJson": details,
				"timestamp":   e.Timestamp.UTC().UnixMilli(),
			})
	})
}

func rowAuditEntry(row map[string]any) (*model.AuditEntry, error) {
	idStr, _ := row["id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("audit: row id: %w", err)
	}
	entityStr, _ := row["entityId"].(string)
	entityID, err := uuid.Parse(entityStr)
	if err != nil {
		return nil, fmt.Errorf("audit: row entityId: %w", err)
	}
	tsMS, _ := row["timestamp"].(int64)
	e := &model.AuditEntry{
		ID:        id,
		Action:    model.AuditAction(str(row["action"])),
		EntityID:  entityID,
		ActorID:   str(row["actorId"]),
		Timestamp: time.UnixMilli(tsMS).UTC(),
	}
	if raw := str(row["detailsJson"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Details); err != nil {
			return nil, fmt.Errorf("audit: decode details: %w", err)
		}
	}
	return e, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func (s *GraphStore) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	var clauses []string
	params := map[string]any{}
	if f.EntityID != nil {
		clauses = append(clauses, "a.entityId = $entityId")
		params["entityId"] = *f.EntityID
	}
	if f.Action != "" {
		clauses = append(clauses, "a.action = $action")
		params["action"] = string(f.Action)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "a.actorId = $actorId")
		params["actorId"] = f.ActorID
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "a.timestamp >= $from")
		params["from"] = f.From.UTC().UnixMilli()
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "a.timestamp < $to")
		params["to"] = f.To.UTC().UnixMilli()
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var out []*model.AuditEntry
	err := s.pool.WithConn(ctx, func(st graph.Store) error {
		rows, err := st.Query(ctx, `
			MATCH (a:AuditEntry)
			`+where+`
			RETURN `+auditReturn+`
			ORDER BY a.timestamp, a.id`,
			params)
		if err != nil {
			return err
		}
		for _, row := range rows {
			e, err := rowAuditEntry(row)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *GraphStore) PageByEntity(ctx context.Context, entityID uuid.UUID, cursor string, limit int) ([]*model.AuditEntry, string, error) {
	afterTS, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}
	params := map[string]any{"entityId": entityID, "limit": int64(limit + 1)}
	where := "WHERE a.entityId = $entityId"
	if cursor != "" {
		where += " AND (a.timestamp > $afterTs OR (a.timestamp = $afterTs AND a.id > $afterId))"
		params["afterTs"] = afterTS
		params["afterId"] = afterID
	}
	var entries []*model.AuditEntry
	err = s.pool.WithConn(ctx, func(st graph.Store) error {
		rows, err := st.Query(ctx, `
			MATCH (a:AuditEntry)
			`+where+`
			RETURN `+auditReturn+`
			ORDER BY a.timestamp, a.id
			LIMIT $limit`,
			params)
		if err != nil {
			return err
		}
		for _, row := range rows {
			e, err := rowAuditEntry(row)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return page(entries, limit)
}

func (s *GraphStore) Close(ctx context.Context) error { return nil }
