package source

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/srahul3/lineage-sync/internal/model"
)

const DefaultSchema = "manager"

const nodesQuery = `SELECT node_name, type,
	coalesce(attribute, '{}'::jsonb) || jsonb_build_object(
		'service', service,
		'domain', domain,
		'site', site,
		'author', coalesce(author, '-'),
		'node', node
	) AS attribute
FROM %[1]s.data_lineage_node
WHERE udt > now() - $1::interval
ORDER BY node_name`

const relationshipsQuery = `SELECT a.up_node_name, a.down_node_name, a.type, coalesce(a.attribute, '{}'::jsonb)
FROM %[1]s.data_lineage_relationship a
JOIN %[1]s.data_lineage_node b ON a.up_node_name = b.node_name
JOIN %[1]s.data_lineage_node c ON a.down_node_name = c.node_name
WHERE b.udt > now() - $1::interval
   OR c.udt > now() - $1::interval
ORDER BY a.up_node_name, a.down_node_name, a.type`

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenPostgres opens a connection pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "db.Ping")
	}
	return db, nil
}

// PostgresSource reads the data_lineage_node and data_lineage_relationship
// tables of one schema.
type PostgresSource struct {
	db     *sql.DB
	schema string
}

func NewPostgresSource(db *sql.DB, schema string) (*PostgresSource, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if !identifier.MatchString(schema) {
		return nil, errors.Errorf("invalid schema name %q", schema)
	}
	return &PostgresSource{db: db, schema: pq.QuoteIdentifier(schema)}, nil
}

func (s *PostgresSource) FetchNodes(ctx context.Context, window time.Duration) ([]model.NodeRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(nodesQuery, s.schema), interval(window))
	if err != nil {
		return nil, errors.Wrap(err, "query nodes")
	}
	defer rows.Close()

	var out []model.NodeRow
	for rows.Next() {
		var (
			n    model.NodeRow
			attr []byte
		)
		if err := rows.Scan(&n.Name, &n.Type, &attr); err != nil {
			return nil, errors.Wrap(err, "scan node")
		}
		if n.Attributes, err = decodeAttributes(attr); err != nil {
			return nil, errors.Wrapf(err, "node %q", n.Name)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate nodes")
	}
	return out, nil
}

func (s *PostgresSource) FetchRelationships(ctx context.Context, window time.Duration) ([]model.RelationshipRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(relationshipsQuery, s.schema), interval(window))
	if err != nil {
		return nil, errors.Wrap(err, "query relationships")
	}
	defer rows.Close()

	var out []model.RelationshipRow
	for rows.Next() {
		var (
			r    model.RelationshipRow
			attr []byte
		)
		if err := rows.Scan(&r.UpName, &r.DownName, &r.Type, &attr); err != nil {
			return nil, errors.Wrap(err, "scan relationship")
		}
		if r.Attributes, err = decodeAttributes(attr); err != nil {
			return nil, errors.Wrapf(err, "relationship %s-[%s]->%s", r.UpName, r.Type, r.DownName)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate relationships")
	}
	return out, nil
}

// interval renders a window as a PostgreSQL interval literal.
func interval(window time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(window/time.Second))
}

// decodeAttributes keeps integers exact by decoding numbers as json.Number.
func decodeAttributes(raw []byte) (map[string]interface{}, error) {
	attrs := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return attrs, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return nil, errors.Wrap(err, "decode attribute")
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return attrs, nil
}
