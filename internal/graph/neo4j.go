package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig locates the graph database.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore implements Store over the bolt protocol.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jStore connects a driver and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4jStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify connectivity: %w", err)
	}
	return &Neo4jStore{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// Execute runs a write statement inside a managed transaction.
func (s *Neo4jStore) Execute(ctx context.Context, query string, params map[string]any) error {
	bound, err := SanitizeParams(params)
	if err != nil {
		return err
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, bound)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// Query runs a read statement and returns one map per record.
func (s *Neo4jStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	bound, err := SanitizeParams(params)
	if err != nil {
		return nil, err
	}
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, bound)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(records))
		for i, rec := range records {
			row := make(map[string]any, len(rec.Keys))
			for j, key := range rec.Keys {
				row[key] = rec.Values[j]
			}
			out[i] = row
		}
		return out, nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return rows.([]map[string]any), nil
}

// schemaStatements are the index obligations. Each is safe to re-run.
var schemaStatements = []string{
	`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
	`CREATE INDEX entity_identity IF NOT EXISTS FOR (e:Entity) ON (e.normalizedName, e.type)`,
	`CREATE INDEX synonym_normalized IF NOT EXISTS FOR (s:Synonym) ON (s.normalizedValue)`,
	`CREATE CONSTRAINT blocking_key_value IF NOT EXISTS FOR (b:BlockingKey) REQUIRE b.value IS UNIQUE`,
	`CREATE CONSTRAINT audit_id IF NOT EXISTS FOR (a:AuditEntry) REQUIRE a.id IS UNIQUE`,
	`CREATE INDEX audit_entity IF NOT EXISTS FOR (a:AuditEntry) ON (a.entityId)`,
	`CREATE INDEX audit_action IF NOT EXISTS FOR (a:AuditEntry) ON (a.action)`,
	`CREATE INDEX audit_timestamp IF NOT EXISTS FOR (a:AuditEntry) ON (a.timestamp)`,
	`CREATE INDEX lock_key IF NOT EXISTS FOR (l:Lock) ON (l.key)`,
}

// CreateIndexes applies the schema statements one by one.
func (s *Neo4jStore) CreateIndexes(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("graph: create index: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("graph: create index: %w", err)
		}
	}
	return nil
}

// IsConnected probes driver connectivity.
func (s *Neo4jStore) IsConnected(ctx context.Context) bool {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		s.logger.Debug("graph: connectivity probe failed", "error", err)
		return false
	}
	return true
}

// Close shuts down the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
