// Package pipeline drives one sync run through its phases:
// fetching, index ensure, node sync and relationship sync.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/srahul3/lineage-sync/internal/cypher"
	"github.com/srahul3/lineage-sync/internal/metrics"
	"github.com/srahul3/lineage-sync/internal/model"
	"github.com/srahul3/lineage-sync/internal/recon"
	"github.com/srahul3/lineage-sync/internal/scheduler"
	"github.com/srahul3/lineage-sync/internal/source"
	"github.com/srahul3/lineage-sync/internal/store"
)

type Options struct {
	Window        time.Duration
	Nodes         scheduler.Options
	Relationships scheduler.Options
	// Reset deletes every synced node before the index is ensured.
	Reset bool
}

func (o Options) Validate() error {
	if o.Window <= 0 {
		return errors.Errorf("window must be positive, got %s", o.Window)
	}
	if err := o.Nodes.Validate(); err != nil {
		return errors.Wrap(err, "node sync")
	}
	if err := o.Relationships.Validate(); err != nil {
		return errors.Wrap(err, "relationship sync")
	}
	return nil
}

// Report describes a finished run.
type Report struct {
	State         model.State
	Nodes         *model.PhaseResult
	Relationships *model.PhaseResult
	Conflicts     int
	Duration      time.Duration
	Err           error
}

// Driver runs the pipeline once. It is not reusable.
type Driver struct {
	source    source.Source
	store     store.Store
	scheduler *scheduler.Scheduler
	recon     *recon.Reconciler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
	now       func() time.Time

	mu    sync.Mutex
	state model.State
}

func New(src source.Source, st store.Store, opts Options, logger *slog.Logger, m *metrics.Metrics) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		source:    src,
		store:     st,
		scheduler: scheduler.New(st, logger, m),
		recon:     recon.NewReconciler(),
		metrics:   m,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		state:     model.StateIdle,
	}
}

func (d *Driver) State() model.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s model.State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()
	d.logger.Debug("state changed", "from", prev, "to", s)
}

// Run executes the pipeline. On failure the report is still returned with
// whatever phase results were produced; nothing already committed is
// rolled back, re-running converges because every write is a merge.
// Cancelling ctx stops the run at the next phase boundary.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	d.mu.Lock()
	if d.state != model.StateIdle {
		d.mu.Unlock()
		return nil, errors.Errorf("pipeline already ran, state %s", d.state)
	}
	d.mu.Unlock()

	start := d.now()
	report := &Report{}

	err := d.run(ctx, report)
	if err != nil {
		d.setState(model.StateFailed)
	} else {
		d.setState(model.StateDone)
	}

	report.State = d.State()
	report.Err = err
	report.Duration = d.now().Sub(start)
	d.metrics.ObserveRun(report.Duration, report.State, d.now())

	if err != nil {
		d.logger.Error("sync failed", "state", report.State, "elapsed", report.Duration, "error", err)
	} else {
		d.logger.Info("sync finished", "state", report.State, "elapsed", report.Duration)
	}
	return report, err
}

func (d *Driver) run(ctx context.Context, report *Report) error {
	if err := d.opts.Validate(); err != nil {
		return err
	}

	d.setState(model.StateFetching)
	nodes, err := d.source.FetchNodes(ctx, d.opts.Window)
	if err != nil {
		return &model.SourceFetchError{Set: "nodes", Err: err}
	}
	rels, err := d.source.FetchRelationships(ctx, d.opts.Window)
	if err != nil {
		return &model.SourceFetchError{Set: "relationships", Err: err}
	}
	d.logger.Info("fetched rows", "nodes", len(nodes), "relationships", len(rels), "window", d.opts.Window)

	nodes, nodeConflicts := d.recon.Nodes(nodes)
	rels, relConflicts := d.recon.Relationships(rels)
	for _, c := range append(nodeConflicts, relConflicts...) {
		d.logger.Warn("duplicate rows disagree, keeping the last", "key", c.Key, "duplicates", c.Duplicates)
	}
	report.Conflicts = len(nodeConflicts) + len(relConflicts)

	if d.opts.Reset {
		if err := checkpoint(ctx, model.StateIndexEnsure); err != nil {
			return err
		}
		d.logger.Warn("resetting graph")
		if err := d.store.Reset(ctx); err != nil {
			return errors.Wrap(err, "reset graph")
		}
	}

	if err := checkpoint(ctx, model.StateIndexEnsure); err != nil {
		return err
	}
	d.setState(model.StateIndexEnsure)
	if err := d.store.Setup(ctx); err != nil {
		return &model.IndexEnsureError{Err: err}
	}

	if err := checkpoint(ctx, model.StateNodeSync); err != nil {
		return err
	}
	d.setState(model.StateNodeSync)
	report.Nodes, err = scheduler.Run(ctx, d.scheduler, model.PhaseNodeSync, nodes, d.opts.Nodes, upsertNodes)
	if err != nil {
		return err
	}
	if err := report.Nodes.Err(); err != nil {
		return err
	}

	if err := checkpoint(ctx, model.StateRelationshipSync); err != nil {
		return err
	}
	d.setState(model.StateRelationshipSync)
	report.Relationships, err = scheduler.Run(ctx, d.scheduler, model.PhaseRelationshipSync, rels, d.opts.Relationships, upsertRelationships)
	if err != nil {
		return err
	}
	return report.Relationships.Err()
}

// checkpoint reports a stop request before entering next.
func checkpoint(ctx context.Context, next model.State) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "run stopped before %s", next)
	}
	return nil
}

func upsertNodes(ctx context.Context, session store.Session, rows []model.NodeRow) (store.Summary, error) {
	stmts, err := cypher.EncodeNodes(rows)
	if err != nil {
		return store.Summary{}, err
	}
	return session.Run(ctx, stmts...)
}

func upsertRelationships(ctx context.Context, session store.Session, rows []model.RelationshipRow) (store.Summary, error) {
	stmts, err := cypher.EncodeRelationships(rows)
	if err != nil {
		return store.Summary{}, err
	}
	return session.Run(ctx, stmts...)
}
