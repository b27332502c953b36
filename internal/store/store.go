package store

import (
	"context"

	"github.com/srahul3/lineage-sync/internal/model"
)

// Summary counts the changes a write made.
type Summary struct {
	NodesCreated         int
	RelationshipsCreated int
	PropertiesSet        int
}

func (s *Summary) Add(o Summary) {
	s.NodesCreated += o.NodesCreated
	s.RelationshipsCreated += o.RelationshipsCreated
	s.PropertiesSet += o.PropertiesSet
}

// Session writes batches. All statements passed to one Run call commit in
// a single transaction or not at all. A Session must not be used
// concurrently.
type Session interface {
	Run(ctx context.Context, stmts ...model.Statement) (Summary, error)
	Close() error
}

// Store is the graph sink. It is safe to open sessions concurrently.
type Store interface {
	Connect() error
	// Setup ensures the lookup index used by relationship writes exists.
	Setup(ctx context.Context) error
	// Reset removes every synced node and its relationships.
	Reset(ctx context.Context) error
	NewSession() Session
	Close() error
}
