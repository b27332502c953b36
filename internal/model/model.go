package model

import "time"

// DefaultWindow is the trailing period of source changes picked up by a run.
const DefaultWindow = 7 * 24 * time.Hour

// NodeRow is one row of the relational node table.
type NodeRow struct {
	Name       string
	Type       string
	Attributes map[string]interface{}
}

// RelationshipRow is one row of the relational relationship table.
// Identity is the ordered triple (UpName, DownName, Type).
type RelationshipRow struct {
	UpName     string
	DownName   string
	Type       string
	Attributes map[string]interface{}
}

// Key returns the identity of the relationship.
func (r RelationshipRow) Key() RelationshipKey {
	return RelationshipKey{Up: r.UpName, Down: r.DownName, Type: r.Type}
}

type RelationshipKey struct {
	Up   string
	Down string
	Type string
}

// Batch is a contiguous slice of a row set written in one transaction
// per label group.
type Batch[T any] struct {
	Phase Phase
	Index int
	Rows  []T

	Duration time.Duration
}

type Phase string

const (
	PhaseIndexEnsure      Phase = "index_ensure"
	PhaseNodeSync         Phase = "node_sync"
	PhaseRelationshipSync Phase = "relationship_sync"
)

type State string

const (
	StateIdle             State = "idle"
	StateFetching         State = "fetching"
	StateIndexEnsure      State = "index_ensure"
	StateNodeSync         State = "node_sync"
	StateRelationshipSync State = "relationship_sync"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// PhaseResult is the outcome of one data phase.
type PhaseResult struct {
	Phase     Phase
	Batches   int
	Succeeded int
	Rows      int
	Failures  []*SinkTransactionError
	Duration  time.Duration
}

// Err returns a PhaseError when at least one batch failed.
func (r *PhaseResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	return &PhaseError{Phase: r.Phase, Batches: r.Batches, Failures: r.Failures}
}
