// Package storetest provides an in-memory graph store with the same merge
// semantics as the Neo4j store, for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/srahul3/lineage-sync/internal/model"
	"github.com/srahul3/lineage-sync/internal/store"
)

// Hook runs before each statement of a transaction. A non-nil error
// aborts the whole transaction without writing anything.
type Hook func(ctx context.Context, stmt model.Statement) error

type nodeKey struct {
	Label string
	Name  string
}

type edgeKey struct {
	Up   nodeKey
	Down nodeKey
	Type string
}

// Executed records one transaction run against the store.
type Executed struct {
	Statements []model.Statement
	Started    time.Time
	Finished   time.Time
	Err        error
}

type Store struct {
	// Before, when set, is called for every statement of every transaction.
	Before Hook
	// SetupErr, when set, is returned by Setup.
	SetupErr error

	mu       sync.Mutex
	nodes    map[nodeKey]map[string]interface{}
	edges    map[edgeKey]map[string]interface{}
	executed []Executed
	indexed  bool
	setups   int
	resets   int

	opened   atomic.Int64
	closed   atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		nodes: map[nodeKey]map[string]interface{}{},
		edges: map[edgeKey]map[string]interface{}{},
	}
}

func (s *Store) Connect() error { return nil }

func (s *Store) Setup(ctx context.Context) error {
	if s.SetupErr != nil {
		return s.SetupErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = true
	s.setups++
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = map[nodeKey]map[string]interface{}{}
	s.edges = map[edgeKey]map[string]interface{}{}
	s.resets++
	return nil
}

func (s *Store) NewSession() store.Session {
	s.opened.Add(1)
	return &session{store: s}
}

func (s *Store) Close() error { return nil }

// AddNode seeds a node outside of any statement.
func (s *Store) AddNode(label, name string, props map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := copyProps(props)
	p["name"] = name
	s.nodes[nodeKey{Label: label, Name: name}] = p
}

func (s *Store) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

func (s *Store) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}

// Node returns the properties of the node with the given label and name.
func (s *Store) Node(label, name string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.nodes[nodeKey{Label: label, Name: name}]
	return copyProps(p), ok
}

// Edge returns the properties of the first edge of the given type between
// nodes with the given names.
func (s *Store) Edge(up, down, typ string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.edges {
		if k.Up.Name == up && k.Down.Name == down && k.Type == typ {
			return copyProps(p), true
		}
	}
	return nil, false
}

// Snapshot returns a comparable view of the whole graph.
func (s *Store) Snapshot() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(s.nodes)+len(s.edges))
	for k, p := range s.nodes {
		out["node:"+k.Label+":"+k.Name] = copyProps(p)
	}
	for k, p := range s.edges {
		out["edge:"+k.Up.Label+":"+k.Up.Name+"-"+k.Type+"->"+k.Down.Label+":"+k.Down.Name] = copyProps(p)
	}
	return out
}

func (s *Store) Executed() []Executed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Executed, len(s.executed))
	copy(out, s.executed)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (s *Store) Indexed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexed
}

func (s *Store) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *Store) SessionsOpened() int64 { return s.opened.Load() }
func (s *Store) SessionsClosed() int64 { return s.closed.Load() }

// PeakConcurrency is the highest number of transactions that ran at once.
func (s *Store) PeakConcurrency() int64 { return s.peak.Load() }

func (s *Store) commit(stmts []model.Statement) (store.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &graph{nodes: cloneNodes(s.nodes), edges: cloneEdges(s.edges)}
	var total store.Summary
	for _, stmt := range stmts {
		sum, err := tx.apply(stmt)
		if err != nil {
			return store.Summary{}, err
		}
		total.Add(sum)
	}
	s.nodes, s.edges = tx.nodes, tx.edges
	return total, nil
}

type graph struct {
	nodes map[nodeKey]map[string]interface{}
	edges map[edgeKey]map[string]interface{}
}

func (g *graph) apply(stmt model.Statement) (store.Summary, error) {
	var sum store.Summary
	switch stmt.Kind {
	case model.CreateNode:
		for _, row := range stmt.Rows {
			k := nodeKey{Label: stmt.Label, Name: row["name"].(string)}
			if _, ok := g.nodes[k]; !ok {
				sum.NodesCreated++
			}
			props := copyProps(row["props"].(map[string]interface{}))
			g.nodes[k] = props
			sum.PropertiesSet += len(props)
		}
	case model.CreateRelation:
		missing := map[string]bool{}
		for _, row := range stmt.Rows {
			for _, end := range []string{row["up_name"].(string), row["down_name"].(string)} {
				if len(g.byName(end)) == 0 {
					missing[end] = true
				}
			}
		}
		if len(missing) > 0 {
			names := make([]string, 0, len(missing))
			for n := range missing {
				names = append(names, n)
			}
			sort.Strings(names)
			return store.Summary{}, &model.EndpointMissingError{Type: stmt.Label, Missing: names}
		}
		for _, row := range stmt.Rows {
			for _, up := range g.byName(row["up_name"].(string)) {
				for _, down := range g.byName(row["down_name"].(string)) {
					k := edgeKey{Up: up, Down: down, Type: stmt.Label}
					if _, ok := g.edges[k]; !ok {
						sum.RelationshipsCreated++
					}
					props := copyProps(row["props"].(map[string]interface{}))
					g.edges[k] = props
					sum.PropertiesSet += len(props)
				}
			}
		}
	default:
		return store.Summary{}, errors.Errorf("unknown statement kind %q", stmt.Kind)
	}
	return sum, nil
}

func (g *graph) byName(name string) []nodeKey {
	var keys []nodeKey
	for k := range g.nodes {
		if k.Name == name {
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *Store) record(e Executed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, e)
}

type session struct {
	store  *Store
	busy   atomic.Bool
	closed atomic.Bool
}

func (s *session) Run(ctx context.Context, stmts ...model.Statement) (store.Summary, error) {
	if s.closed.Load() {
		return store.Summary{}, errors.New("session is closed")
	}
	if !s.busy.CompareAndSwap(false, true) {
		return store.Summary{}, errors.New("session used concurrently")
	}
	defer s.busy.Store(false)

	n := s.store.inFlight.Add(1)
	defer s.store.inFlight.Add(-1)
	for {
		p := s.store.peak.Load()
		if n <= p || s.store.peak.CompareAndSwap(p, n) {
			break
		}
	}

	e := Executed{Statements: stmts, Started: time.Now()}
	var (
		sum store.Summary
		err error
	)
	if s.store.Before != nil {
		for _, stmt := range stmts {
			if err = s.store.Before(ctx, stmt); err != nil {
				break
			}
		}
	}
	if err == nil {
		sum, err = s.store.commit(stmts)
	}
	e.Finished = time.Now()
	e.Err = err
	s.store.record(e)
	return sum, err
}

func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.store.closed.Add(1)
	}
	return nil
}

func copyProps(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func cloneNodes(m map[nodeKey]map[string]interface{}) map[nodeKey]map[string]interface{} {
	out := make(map[nodeKey]map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneEdges(m map[edgeKey]map[string]interface{}) map[edgeKey]map[string]interface{} {
	out := make(map[edgeKey]map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
