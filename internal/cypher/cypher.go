// Package cypher encodes batches of lineage rows into parameterized Cypher
// MERGE statements, one statement per label or relationship type.
package cypher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/srahul3/lineage-sync/internal/model"
)

// MarkerLabel is applied to every synced node so endpoint lookups can use a
// single index.
const MarkerLabel = "Lineage"

const (
	IndexName = "lineage_name"

	IndexQuery = "CREATE INDEX " + IndexName + " IF NOT EXISTS FOR (n:" + MarkerLabel + ") ON (n.name)"
	ResetQuery = "MATCH (n:" + MarkerLabel + ") DETACH DELETE n"
)

const nodeQuery = `UNWIND $rows AS row
MERGE (n:%s:%s {name: row.name})
SET n = row.props`

const relationshipQuery = `UNWIND $rows AS row
MATCH (a:%[1]s {name: row.up_name})
MATCH (b:%[1]s {name: row.down_name})
MERGE (a)-[r:%[2]s]->(b)
SET r = row.props`

const relationshipGuard = `UNWIND $rows AS row
OPTIONAL MATCH (a:%[1]s {name: row.up_name})
WITH row, count(a) AS ups
OPTIONAL MATCH (b:%[1]s {name: row.down_name})
WITH row, ups, count(b) AS downs
WHERE ups = 0 OR downs = 0
RETURN row.up_name AS up_name, row.down_name AS down_name, ups = 0 AS up_missing, downs = 0 AS down_missing`

// EscapeLabel quotes a label or relationship type for use as a static
// schema element.
func EscapeLabel(label string) string {
	return "`" + strings.ReplaceAll(label, "`", "``") + "`"
}

// EncodeNodes groups rows by node type and returns one statement per type,
// in order of first appearance.
func EncodeNodes(rows []model.NodeRow) ([]model.Statement, error) {
	var (
		order  []string
		groups = map[string][]map[string]interface{}{}
	)
	for i, r := range rows {
		if r.Name == "" {
			return nil, errors.Errorf("node row %d: empty name", i)
		}
		if r.Type == "" {
			return nil, errors.Errorf("node %q: empty type", r.Name)
		}
		props, err := Properties(r.Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "node %q", r.Name)
		}
		props["name"] = r.Name

		if _, ok := groups[r.Type]; !ok {
			order = append(order, r.Type)
		}
		groups[r.Type] = append(groups[r.Type], map[string]interface{}{
			"name":  r.Name,
			"props": props,
		})
	}

	stmts := make([]model.Statement, 0, len(order))
	for _, label := range order {
		stmts = append(stmts, model.Statement{
			Kind:  model.CreateNode,
			Label: label,
			Query: fmt.Sprintf(nodeQuery, MarkerLabel, EscapeLabel(label)),
			Rows:  groups[label],
		})
	}
	return stmts, nil
}

// EncodeRelationships groups rows by relationship type and returns one
// guarded statement per type, in order of first appearance.
func EncodeRelationships(rows []model.RelationshipRow) ([]model.Statement, error) {
	var (
		order  []string
		groups = map[string][]map[string]interface{}{}
	)
	for i, r := range rows {
		if r.UpName == "" || r.DownName == "" {
			return nil, errors.Errorf("relationship row %d: empty endpoint name", i)
		}
		if r.Type == "" {
			return nil, errors.Errorf("relationship %s->%s: empty type", r.UpName, r.DownName)
		}
		props, err := Properties(r.Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "relationship %s-[%s]->%s", r.UpName, r.Type, r.DownName)
		}

		if _, ok := groups[r.Type]; !ok {
			order = append(order, r.Type)
		}
		groups[r.Type] = append(groups[r.Type], map[string]interface{}{
			"up_name":   r.UpName,
			"down_name": r.DownName,
			"props":     props,
		})
	}

	stmts := make([]model.Statement, 0, len(order))
	for _, typ := range order {
		stmts = append(stmts, model.Statement{
			Kind:  model.CreateRelation,
			Label: typ,
			Query: fmt.Sprintf(relationshipQuery, MarkerLabel, EscapeLabel(typ)),
			Guard: fmt.Sprintf(relationshipGuard, MarkerLabel),
			Rows:  groups[typ],
		})
	}
	return stmts, nil
}

// Properties converts a JSON attribute object into a property map Neo4j
// can store. Nulls are dropped; nested objects and lists that are not made
// of one scalar kind are stored as JSON strings.
func Properties(attrs map[string]interface{}) (map[string]interface{}, error) {
	props := make(map[string]interface{}, len(attrs)+1)
	for k, v := range attrs {
		if v == nil {
			continue
		}
		pv, err := property(v)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %q", k)
		}
		props[k] = pv
	}
	return props, nil
}

func property(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case []interface{}:
		if homogeneous(t) {
			out := make([]interface{}, len(t))
			for i, e := range t {
				pe, err := property(e)
				if err != nil {
					return nil, err
				}
				out[i] = pe
			}
			return out, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func homogeneous(list []interface{}) bool {
	var kind string
	for _, v := range list {
		var k string
		switch v.(type) {
		case string:
			k = "string"
		case bool:
			k = "bool"
		case int, int32, int64, float32, float64, json.Number:
			k = "number"
		default:
			return false
		}
		if kind != "" && k != kind {
			return false
		}
		kind = k
	}
	return true
}
