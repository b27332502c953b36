package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/srahul3/lineage-sync/internal/config"
	"github.com/srahul3/lineage-sync/internal/logging"
	"github.com/srahul3/lineage-sync/internal/metrics"
	"github.com/srahul3/lineage-sync/internal/pipeline"
	"github.com/srahul3/lineage-sync/internal/scheduler"
	"github.com/srahul3/lineage-sync/internal/source"
	"github.com/srahul3/lineage-sync/internal/store"
)

type flags struct {
	config              string
	window              time.Duration
	batchSize           int
	nodeWorkers         int
	relationshipWorkers int
	reset               bool
}

// runFunc executes one sync with the resolved configuration.
type runFunc func(ctx context.Context, cfg *config.Config, reset bool) error

func newRootCommand(run runFunc) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "lineage-sync",
		Short: "Sync recently changed lineage rows from PostgreSQL into Neo4j",
		Long: `
Reads lineage nodes and relationships modified within the sync window from
PostgreSQL and merges them into Neo4j. Nodes are written before any
relationship, in batches spread over a bounded number of workers.
`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load(f.config)
			if err != nil {
				return err
			}
			f.apply(c, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(c.Context(), cfg, f.reset)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "path to a YAML config file")
	fs.DurationVar(&f.window, "window", 0, "only sync rows modified within this window (default from config, 168h)")
	fs.IntVar(&f.batchSize, "batch-size", 0, "rows per write transaction")
	fs.IntVar(&f.nodeWorkers, "node-workers", 0, "node batches in flight at once")
	fs.IntVar(&f.relationshipWorkers, "relationship-workers", 0, "relationship batches in flight at once")
	fs.BoolVar(&f.reset, "reset", false, "delete every synced node before writing")
	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *flags) apply(c *cobra.Command, cfg *config.Config) {
	fs := c.Flags()
	if fs.Changed("window") {
		cfg.Sync.Window = f.window
	}
	if fs.Changed("batch-size") {
		cfg.Sync.BatchSize = f.batchSize
	}
	if fs.Changed("node-workers") {
		cfg.Sync.NodeWorkers = f.nodeWorkers
	}
	if fs.Changed("relationship-workers") {
		cfg.Sync.RelationshipWorkers = f.relationshipWorkers
	}
}

func run(ctx context.Context, cfg *config.Config, reset bool) error {
	logger, closeLog := logging.Setup(cfg.Log.File, cfg.LogLevel())
	defer closeLog()

	m := metrics.New()
	defer func() {
		if err := m.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("failed to push metrics", "error", err)
		}
	}()

	db, err := source.OpenPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		return err
	}
	defer db.Close()

	src, err := source.NewPostgresSource(db, cfg.Postgres.Schema)
	if err != nil {
		return err
	}

	st := store.NewNeo4jStore(store.Neo4jConfig{
		URI:                   cfg.Neo4j.URI,
		Username:              cfg.Neo4j.Username,
		Password:              cfg.Neo4j.Password,
		Database:              cfg.Neo4j.Database,
		MaxConnectionPoolSize: cfg.Neo4j.MaxConnectionPoolSize,
	}, logger)
	defer st.Close()
	if err := st.Connect(); err != nil {
		logger.Error("failed to connect to neo4j", "error", err)
		return err
	}

	driver := pipeline.New(src, st, pipeline.Options{
		Window:        cfg.Sync.Window,
		Nodes:         scheduler.Options{BatchSize: cfg.Sync.BatchSize, Workers: cfg.Sync.NodeWorkers},
		Relationships: scheduler.Options{BatchSize: cfg.Sync.BatchSize, Workers: cfg.Sync.RelationshipWorkers},
		Reset:         reset,
	}, logger, m)

	if _, err := driver.Run(ctx); err != nil {
		return errors.Wrap(err, "sync failed")
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(run).ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("lineage-sync: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
