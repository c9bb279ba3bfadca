package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/musubi/internal/model"
)

// SQLiteStore keeps the trail in an embedded SQLite database. Useful for
// single-node deployments that want the audit trail durable without a
// second network dependency.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id         TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_entries(entity_id, ts);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
`

// NewSQLiteStore opens (and if needed initializes) the database at path.
// Use ":memory:" for an ephemeral trail.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// Serialized access: the audit trail is low-volume and SQLite writers
	// exclude each other anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e *model.AuditEntry) error {
	details := ""
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("audit: encode details: %w", err)
		}
		details = string(raw)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, action, entity_id, actor_id, details, ts)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), string(e.Action), e.EntityID.String(), e.ActorID, details,
		e.Timestamp.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	for rows.Next() {
		var idStr, action, entityStr, actor, details string
		var ts int64
		if err := rows.Scan(&idStr, &action, &entityStr, &actor, &details, &ts); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("audit: scan id: %w", err)
		}
		entityID, err := uuid.Parse(entityStr)
		if err != nil {
			return nil, fmt.Errorf("audit: scan entity id: %w", err)
		}
		e := &model.AuditEntry{
			ID:        id,
			Action:    model.AuditAction(action),
			EntityID:  entityID,
			ActorID:   actor,
			Timestamp: time.UnixMilli(ts).UTC(),
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.EntityID != nil {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, f.EntityID.String())
	}
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, f.From.UTC().UnixMilli())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "ts < ?")
		args = append(args, f.To.UTC().UnixMilli())
	}
	q := "SELECT id, action, entity_id, actor_id, details, ts FROM audit_entries"
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY ts, id"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) PageByEntity(ctx context.Context, entityID uuid.UUID, cursor string, limit int) ([]*model.AuditEntry, string, error) {
	afterTS, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, action, entity_id, actor_id, details, ts FROM audit_entries
		  WHERE entity_id = ?`
	args := []any{entityID.String()}
	if cursor != "" {
		q += ` AND (ts > ? OR (ts = ? AND id > ?))`
		args = append(args, afterTS, afterTS, afterID)
	}
	q += ` ORDER BY ts, id LIMIT ?`
	args = append(args, limit+1)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("audit: page: %w", err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, "", err
	}
	return page(entries, limit)
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
