// Package source reads lineage rows changed within a trailing window.
package source

import (
	"context"
	"time"

	"github.com/srahul3/lineage-sync/internal/model"
)

// Source yields the two row sets a sync run writes. Relationship rows are
// included when either endpoint changed within the window.
type Source interface {
	FetchNodes(ctx context.Context, window time.Duration) ([]model.NodeRow, error)
	FetchRelationships(ctx context.Context, window time.Duration) ([]model.RelationshipRow, error)
}

// Static is a Source over fixed row sets.
type Static struct {
	Nodes         []model.NodeRow
	Relationships []model.RelationshipRow
}

func (s *Static) FetchNodes(ctx context.Context, window time.Duration) ([]model.NodeRow, error) {
	return s.Nodes, nil
}

func (s *Static) FetchRelationships(ctx context.Context, window time.Duration) ([]model.RelationshipRow, error) {
	return s.Relationships, nil
}
