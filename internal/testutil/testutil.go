// Package testutil provides shared test infrastructure for integration
// tests that require a neo4j container.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    if os.Getenv("MUSUBI_TEST_NEO4J") != "1" {
//	        os.Exit(m.Run()) // tests will skip themselves
//	    }
//	    tc := testutil.MustStartNeo4j()
//	    defer tc.Terminate()
//	    testStore, _ = tc.NewStore(context.Background(), logger)
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/musubi/internal/graph"
)

// neo4jPassword is the throwaway credential for the ephemeral container.
const neo4jPassword = "musubi-test"

// Enabled reports whether neo4j integration tests are switched on via
// MUSUBI_TEST_NEO4J=1.
func Enabled() bool {
	return os.Getenv("MUSUBI_TEST_NEO4J") == "1"
}

// TestContainer wraps a testcontainers container with a bolt URI for
// connecting.
type TestContainer struct {
	Container testcontainers.Container
	BoltURI   string
}

// MustStartNeo4j starts a neo4j container. Calls os.Exit(1) on failure
// (suitable for TestMain).
func MustStartNeo4j() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "neo4j:5-community",
		ExposedPorts: []string{"7687/tcp"},
		Env: map[string]string{
			"NEO4J_AUTH": "neo4j/" + neo4jPassword,
		},
		WaitingFor: wait.ForLog("Started.").WithStartupTimeout(120 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "7687/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: mapped port: %v\n", err)
		os.Exit(1)
	}

	return &TestContainer{
		Container: container,
		BoltURI:   fmt.Sprintf("bolt://%s:%s", host, port.Port()),
	}
}

// NewStore connects a graph store to the container and creates indexes.
func (tc *TestContainer) NewStore(ctx context.Context, logger *slog.Logger) (*graph.Neo4jStore, error) {
	store, err := graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
		URI:      tc.BoltURI,
		Username: "neo4j",
		Password: neo4jPassword,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := store.CreateIndexes(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return store, nil
}

// Terminate stops the container; safe to defer.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}
