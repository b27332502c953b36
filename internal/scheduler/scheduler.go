// Package scheduler runs the batches of one sync phase on a bounded pool of
// workers, each batch on its own store session.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/srahul3/lineage-sync/internal/batch"
	"github.com/srahul3/lineage-sync/internal/metrics"
	"github.com/srahul3/lineage-sync/internal/model"
	"github.com/srahul3/lineage-sync/internal/store"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	BatchSize int
	Workers   int
}

func (o Options) Validate() error {
	if o.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.Workers <= 0 {
		return errors.Errorf("workers must be positive, got %d", o.Workers)
	}
	return nil
}

// UpsertFunc writes one batch of rows through session.
type UpsertFunc[T any] func(ctx context.Context, session store.Session, rows []T) (store.Summary, error)

type Scheduler struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(st store.Store, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: st, logger: logger, metrics: m}
}

// Run splits rows into batches and upserts them with at most opts.Workers
// batches in flight. Every batch is submitted and awaited before Run
// returns, whatever the outcome of its siblings; failed batches are
// reported in the result, not retried. Batches are not cancelled once
// started: ctx cancellation is only observed by the caller between phases.
func Run[T any](ctx context.Context, s *Scheduler, phase model.Phase, rows []T, opts Options, upsert UpsertFunc[T]) (*model.PhaseResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	chunks, err := batch.Split(rows, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger := s.logger.With("phase", phase)
	logger.Info("phase started", "rows", len(rows), "batches", len(chunks), "workers", opts.Workers)

	ctx = context.WithoutCancel(ctx)
	errs := make([]*model.SinkTransactionError, len(chunks))

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, chunk := range chunks {
		i := i
		b :=&model.Batch[T]{Phase: phase, Index: i, Rows: chunk}
		g.Go(func() error {
			errs[i] = runBatch(ctx, s, logger, b, upsert)
			return nil
		})
	}
	_ = g.Wait()

	result := &model.PhaseResult{
		Phase:    phase,
		Batches:  len(chunks),
		Duration: time.Since(start),
	}
	for i, e := range errs {
		if e != nil {
			result.Failures = append(result.Failures, e)
			continue
		}
		result.Succeeded++
		result.Rows += len(chunks[i])
	}

	logger.Info("phase finished",
		"batches", result.Batches,
		"succeeded", result.Succeeded,
		"failed", len(result.Failures),
		"rows", result.Rows,
		"duration", result.Duration)
	return result, nil
}

func runBatch[T any](ctx context.Context, s *Scheduler, logger *slog.Logger, b *model.Batch[T], upsert UpsertFunc[T]) (failure *model.SinkTransactionError) {
	start := time.Now()

	// a panicking batch must not take its siblings down
	defer func() {
		if r := recover(); r != nil {
			b.Duration = time.Since(start)
			failure = &model.SinkTransactionError{
				Phase:    b.Phase,
				Batch:    b.Index,
				Rows:     len(b.Rows),
				Duration: b.Duration,
				Err:      fmt.Errorf("panic: %v", r),
			}
			s.metrics.ObserveBatch(b.Phase, len(b.Rows), b.Duration, failure)
			logger.Error("batch failed", "batch", b.Index, "rows", len(b.Rows), "duration", b.Duration, "error", failure.Err)
		}
	}()

	session := s.store.NewSession()
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close session", "batch", b.Index, "error", err)
		}
	}()

	summary, err := upsert(ctx, session, b.Rows)
	b.Duration = time.Since(start)
	s.metrics.ObserveBatch(b.Phase, len(b.Rows), b.Duration, err)

	if err != nil {
		logger.Error("batch failed", "batch", b.Index, "rows", len(b.Rows), "duration", b.Duration, "error", err)
		return &model.SinkTransactionError{
			Phase:    b.Phase,
			Batch:    b.Index,
			Rows:     len(b.Rows),
			Duration: b.Duration,
			Err:      err,
		}
	}

	logger.Info("batch committed",
		"batch", b.Index,
		"rows", len(b.Rows),
		"duration", b.Duration,
		"nodes_created", summary.NodesCreated,
		"relationships_created", summary.RelationshipsCreated,
		"properties_set", summary.PropertiesSet)
	return nil
}
