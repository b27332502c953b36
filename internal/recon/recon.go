package recon

import (
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/srahul3/lineage-sync/internal/model"
)

// Reconciler collapses rows that share an identity before they are
// batched, so no two batches of a phase merge the same node or edge.
type Reconciler struct {
	// CRC32-Q, x³²+x³¹+x²⁴+x²²+x¹⁶+x¹⁴+x⁸+x⁷+x⁵+x³+x¹+x⁰ in reversed
	// notation.
	crc32q *crc32.Table
}

// NewReconciler creates a new Reconciler
func NewReconciler() *Reconciler {
	return &Reconciler{
		crc32q: crc32.MakeTable(0xD5828281),
	}
}

// Conflict is reported when duplicate rows disagree on their attributes.
type Conflict struct {
	Key        string
	Duplicates int
	First      uint32
	Last       uint32
}

// Nodes returns rows with one row per name. The last occurrence wins and
// takes the position of the first. Duplicates that disagree on type or
// attributes are reported, so a dropped label is never silent.
func (r *Reconciler) Nodes(rows []model.NodeRow) ([]model.NodeRow, []Conflict) {
	return dedupe(rows,
		func(n model.NodeRow) string { return n.Name },
		func(n model.NodeRow) uint32 { return r.typedChecksum(n.Type, n.Attributes) },
	)
}

// Relationships returns rows with one row per (up, down, type).
func (r *Reconciler) Relationships(rows []model.RelationshipRow) ([]model.RelationshipRow, []Conflict) {
	return dedupe(rows,
		func(rel model.RelationshipRow) string {
			k := rel.Key()
			return fmt.Sprintf("%s-[%s]->%s", k.Up, k.Type, k.Down)
		},
		func(rel model.RelationshipRow) uint32 { return r.Checksum(rel.Attributes) },
	)
}

func dedupe[T any](rows []T, key func(T) string, checksum func(T) uint32) ([]T, []Conflict) {
	type entry struct {
		pos   int
		count int
		first uint32
		last  uint32
	}

	seen := make(map[string]*entry, len(rows))
	out := make([]T, 0, len(rows))
	var order []string

	for _, row := range rows {
		k := key(row)
		sum := checksum(row)

		// check if the key was seen before, replace the row in place if so
		if e, ok := seen[k]; ok {
			out[e.pos] = row
			e.count++
			e.last = sum
			continue
		}
		seen[k] = &entry{pos: len(out), count: 1, first: sum, last: sum}
		order = append(order, k)
		out = append(out, row)
	}

	var conflicts []Conflict
	for _, k := range order {
		e := seen[k]
		if e.count > 1 && e.first != e.last {
			conflicts = append(conflicts, Conflict{Key: k, Duplicates: e.count, First: e.first, Last: e.last})
		}
	}
	return out, conflicts
}

// typedChecksum hashes a node type together with its attribute object.
func (r *Reconciler) typedChecksum(typ string, attrs map[string]interface{}) uint32 {
	sum := crc32.Update(0, r.crc32q, []byte(typ))
	sum = crc32.Update(sum, r.crc32q, []byte{0})
	return crc32.Update(sum, r.crc32q, r.encode(attrs))
}

// Checksum hashes an attribute object. Map keys are marshalled in sorted
// order, so equal objects hash equally.
func (r *Reconciler) Checksum(attrs map[string]interface{}) uint32 {
	return crc32.Checksum(r.encode(attrs), r.crc32q)
}

func (r *Reconciler) encode(attrs map[string]interface{}) []byte {
	if len(attrs) == 0 {
		return nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		// unmarshalable values only come from callers building rows by
		// hand; hash their printed form instead
		b = []byte(fmt.Sprintf("%v", attrs))
	}
	return b
}
