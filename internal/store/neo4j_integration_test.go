//go:build integration

package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/srahul3/lineage-sync/internal/cypher"
	"github.com/srahul3/lineage-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testPassword = "lineage-sync-test"

var testStore *Neo4jStore

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:4.4",
			ExposedPorts: []string{"7687/tcp"},
			Env:          map[string]string{"NEO4J_AUTH": "neo4j/" + testPassword},
			WaitingFor:   wait.ForLog("Started.").WithStartupTimeout(120 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("failed to start neo4j container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "7687")
	if err != nil {
		log.Fatalf("failed to get mapped port: %v", err)
	}

	testStore = NewNeo4jStore(Neo4jConfig{
		URI:      fmt.Sprintf("bolt://%s:%s", host, port.Port()),
		Username: "neo4j",
		Password: testPassword,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := testStore.Connect(); err != nil {
		log.Fatalf("failed to connect to neo4j: %v", err)
	}

	code := m.Run()

	_ = testStore.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func count(t *testing.T, query string) int64 {
	t.Helper()
	session := testStore.driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close()

	out, err := session.ReadTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		result, err := tx.Run(query, nil)
		if err != nil {
			return nil, err
		}
		rec, err := result.Single()
		if err != nil {
			return nil, err
		}
		return rec.Values[0], nil
	})
	require.NoError(t, err)
	return out.(int64)
}

func runNodes(t *testing.T, rows []model.NodeRow) (Summary, error) {
	t.Helper()
	stmts, err := cypher.EncodeNodes(rows)
	require.NoError(t, err)
	session := testStore.NewSession()
	defer session.Close()
	return session.Run(context.Background(), stmts...)
}

func runRelationships(t *testing.T, rows []model.RelationshipRow) (Summary, error) {
	t.Helper()
	stmts, err := cypher.EncodeRelationships(rows)
	require.NoError(t, err)
	session := testStore.NewSession()
	defer session.Close()
	return session.Run(context.Background(), stmts...)
}

func TestNeo4jStore(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testStore.Reset(ctx))

	t.Run("setup is repeatable", func(t *testing.T) {
		require.NoError(t, testStore.Setup(ctx))
		require.NoError(t, testStore.Setup(ctx))
		assert.EqualValues(t, 1, count(t, "SHOW INDEXES YIELD name WHERE name = '"+cypher.IndexName+"' RETURN count(*)"))
	})

	nodes := []model.NodeRow{
		{Name: "svc_a", Type: "Service", Attributes: map[string]interface{}{"domain": "x", "owner": "alice"}},
		{Name: "svc_b", Type: "Service"},
		{Name: "orders", Type: "Table"},
	}
	rels := []model.RelationshipRow{
		{UpName: "svc_a", DownName: "svc_b", Type: "DEPENDS_ON"},
		{UpName: "orders", DownName: "svc_a", Type: "downstream", Attributes: map[string]interface{}{"job": "etl"}},
	}

	t.Run("merge nodes", func(t *testing.T) {
		sum, err := runNodes(t, nodes)
		require.NoError(t, err)
		assert.Equal(t, 3, sum.NodesCreated)

		sum, err = runNodes(t, nodes)
		require.NoError(t, err)
		assert.Equal(t, 0, sum.NodesCreated)
		assert.EqualValues(t, 2, count(t, "MATCH (n:Lineage:Service) RETURN count(n)"))
		assert.EqualValues(t, 1, count(t, "MATCH (n:Lineage:Table) RETURN count(n)"))
	})

	t.Run("merge relationships", func(t *testing.T) {
		sum, err := runRelationships(t, rels)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.RelationshipsCreated)

		_, err = runRelationships(t, rels)
		require.NoError(t, err)
		assert.EqualValues(t, 2, count(t, "MATCH (:Lineage)-[r]->(:Lineage) RETURN count(r)"))
	})

	t.Run("attributes are replaced", func(t *testing.T) {
		_, err := runNodes(t, []model.NodeRow{{Name: "svc_a", Type: "Service", Attributes: map[string]interface{}{"domain": "y"}}})
		require.NoError(t, err)
		assert.EqualValues(t, 0, count(t, "MATCH (n:Service {name: 'svc_a'}) WHERE n.owner IS NOT NULL RETURN count(n)"))
		assert.EqualValues(t, 1, count(t, "MATCH (n:Service {name: 'svc_a', domain: 'y'}) RETURN count(n)"))
	})

	t.Run("missing endpoint rolls back the transaction", func(t *testing.T) {
		_, err := runRelationships(t, []model.RelationshipRow{
			{UpName: "svc_b", DownName: "orders", Type: "feeds"},
			{UpName: "svc_b", DownName: "ghost", Type: "feeds"},
		})
		var missing *model.EndpointMissingError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"ghost"}, missing.Missing)
		assert.EqualValues(t, 0, count(t, "MATCH ()-[r:feeds]->() RETURN count(r)"))
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, testStore.Reset(ctx))
		assert.EqualValues(t, 0, count(t, "MATCH (n:Lineage) RETURN count(n)"))
	})
}
