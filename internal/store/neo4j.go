package store

import (
	"context"
	"log/slog"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/pkg/errors"
	"github.com/srahul3/lineage-sync/internal/cypher"
	"github.com/srahul3/lineage-sync/internal/model"
)

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
	// MaxConnectionPoolSize bounds the driver pool; zero keeps the driver default.
	MaxConnectionPoolSize int
}

func NewNeo4jStore(cfg Neo4jConfig, logger *slog.Logger) *Neo4jStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jStore{cfg: cfg, logger: logger}
}

// Neo4jStore owns one driver for the process lifetime and hands out a
// fresh driver session per NewSession call.
type Neo4jStore struct {
	cfg    Neo4jConfig
	logger *slog.Logger
	driver neo4j.Driver
}

func (s *Neo4jStore) Connect() error {
	var err error

	s.logger.Info("connecting to neo4j", "uri", s.cfg.URI, "username", s.cfg.Username, "database", s.cfg.Database)

	s.driver, err = neo4j.NewDriver(s.cfg.URI, neo4j.BasicAuth(s.cfg.Username, s.cfg.Password, ""), func(c *neo4j.Config) {
		if s.cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = s.cfg.MaxConnectionPoolSize
		}
	})
	if err != nil {
		return errors.Wrap(err, "failed to create driver")
	}

	if err := s.driver.VerifyConnectivity(); err != nil {
		return errors.Wrap(err, "failed to verify connectivity")
	}
	return nil
}

func (s *Neo4jStore) Setup(ctx context.Context) error {
	return s.write(ctx, cypher.IndexQuery)
}

func (s *Neo4jStore) Reset(ctx context.Context) error {
	return s.write(ctx, cypher.ResetQuery)
}

func (s *Neo4jStore) write(ctx context.Context, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.driver == nil {
		return errors.New("neo4j store is not connected")
	}

	session := s.newDriverSession()
	defer session.Close()

	_, err := session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		result, err := tx.Run(query, nil)
		if err != nil {
			return nil, err
		}
		return result.Consume()
	})
	return err
}

func (s *Neo4jStore) NewSession() Session {
	if s.driver == nil {
		return &neo4jSession{}
	}
	return &neo4jSession{session: s.newDriverSession()}
}

func (s *Neo4jStore) newDriverSession() neo4j.Session {
	return s.driver.NewSession(neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.cfg.Database,
	})
}

func (s *Neo4jStore) Close() error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close()
}

type neo4jSession struct {
	session neo4j.Session
}

func (s *neo4jSession) Run(ctx context.Context, stmts ...model.Statement) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if s.session == nil {
		return Summary{}, errors.New("neo4j store is not connected")
	}

	out, err := s.session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		var total Summary
		for _, stmt := range stmts {
			sum, err := runStatement(tx, stmt)
			if err != nil {
				return nil, err
			}
			total.Add(sum)
		}
		return total, nil
	})
	if err != nil {
		return Summary{}, err
	}
	return out.(Summary), nil
}

func runStatement(tx neo4j.Transaction, stmt model.Statement) (Summary, error) {
	if stmt.Guard != "" {
		result, err := tx.Run(stmt.Guard, stmt.Params())
		if err != nil {
			return Summary{}, errors.Wrapf(err, "%s endpoint check", stmt.Label)
		}
		records, err := result.Collect()
		if err != nil {
			return Summary{}, errors.Wrapf(err, "%s endpoint check", stmt.Label)
		}
		if len(records) > 0 {
			return Summary{}, missingEndpoints(stmt.Label, records)
		}
	}

	result, err := tx.Run(stmt.Query, stmt.Params())
	if err != nil {
		return Summary{}, errors.Wrapf(err, "merge %s", stmt.Label)
	}
	summary, err := result.Consume()
	if err != nil {
		return Summary{}, errors.Wrapf(err, "merge %s", stmt.Label)
	}

	c := summary.Counters()
	return Summary{
		NodesCreated:         c.NodesCreated(),
		RelationshipsCreated: c.RelationshipsCreated(),
		PropertiesSet:        c.PropertiesSet(),
	}, nil
}

func (s *neo4jSession) Close() error {
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}

func missingEndpoints(typ string, records []*neo4j.Record) *model.EndpointMissingError {
	seen := map[string]bool{}
	for _, rec := range records {
		if missing, _ := rec.Get("up_missing"); missing == true {
			if name, ok := rec.Get("up_name"); ok {
				seen[name.(string)] = true
			}
		}
		if missing, _ := rec.Get("down_missing"); missing == true {
			if name, ok := rec.Get("down_name"); ok {
				seen[name.(string)] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return &model.EndpointMissingError{Type: typ, Missing: names}
}
