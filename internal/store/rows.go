package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/graph"
)

// Timestamps are persisted as epoch milliseconds so range filters stay
// plain integer comparisons in cypher.

func ms(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

// runner funnels every statement through the handle pool so store access is
// bounded and validated.
type runner struct {
	pool *graph.Pool
}

func (r runner) exec(ctx context.Context, query string, params map[string]any) error {
	return r.pool.WithConn(ctx, func(s graph.Store) error {
		return s.Execute(ctx, query, params)
	})
}

func (r runner) query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	err := r.pool.WithConn(ctx, func(s graph.Store) error {
		var qErr error
		rows, qErr = s.Query(ctx, query, params)
		return qErr
	})
	return rows, err
}

func rowStr(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowFloat(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func rowInt(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func rowTime(row map[string]any, key string) time.Time {
	return fromMS(rowInt(row, key))
}

func rowTimePtr(row map[string]any, key string) *time.Time {
	if row[key] == nil {
		return nil
	}
	t := rowTime(row, key)
	return &t
}

func rowUUID(row map[string]any, key string) (uuid.UUID, error) {
	s := rowStr(row, key)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: row %q is not a uuid: %w", key, err)
	}
	return id, nil
}

func rowUUIDPtr(row map[string]any, key string) *uuid.UUID {
	if row[key] == nil {
		return nil
	}
	id, err := rowUUID(row, key)
	if err != nil {
		return nil
	}
	return &id
}
