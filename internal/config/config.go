package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type PostgresConfig struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

type Neo4jConfig struct {
	URI                   string `yaml:"uri"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Database              string `yaml:"database"`
	MaxConnectionPoolSize int    `yaml:"max_connection_pool_size"`
}

type SyncConfig struct {
	BatchSize           int           `yaml:"batch_size"`
	NodeWorkers         int           `yaml:"node_workers"`
	RelationshipWorkers int           `yaml:"relationship_workers"`
	Window              time.Duration `yaml:"window"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

func Default() *Config {
	return &Config{
		Postgres: PostgresConfig{Schema: "manager"},
		Neo4j:    Neo4jConfig{Username: "neo4j"},
		Sync: SyncConfig{
			BatchSize:           500,
			NodeWorkers:         4,
			RelationshipWorkers: 2,
			Window:              7 * 24 * time.Hour,
		},
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Job: "lineage_sync"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), a .env file in the working directory (if present) and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	// load environment variables from .env file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Postgres.DSN = getEnv("LINEAGE_SYNC_POSTGRES_DSN", c.Postgres.DSN)
	c.Postgres.Schema = getEnv("LINEAGE_SYNC_POSTGRES_SCHEMA", c.Postgres.Schema)

	c.Neo4j.URI = getEnv("NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.Username = getEnv("NEO4J_DB_USERNAME", c.Neo4j.Username)
	c.Neo4j.Password = getEnv("NEO4J_DB_PASSWORD", c.Neo4j.Password)
	c.Neo4j.Database = getEnv("NEO4J_DATABASE", c.Neo4j.Database)

	var err error
	if c.Sync.BatchSize, err = getEnvAsInt("LINEAGE_SYNC_BATCH_SIZE", c.Sync.BatchSize); err != nil {
		return err
	}
	if c.Sync.NodeWorkers, err = getEnvAsInt("LINEAGE_SYNC_NODE_WORKERS", c.Sync.NodeWorkers); err != nil {
		return err
	}
	if c.Sync.RelationshipWorkers, err = getEnvAsInt("LINEAGE_SYNC_RELATIONSHIP_WORKERS", c.Sync.RelationshipWorkers); err != nil {
		return err
	}
	if c.Sync.Window, err = getEnvAsDuration("LINEAGE_SYNC_WINDOW", c.Sync.Window); err != nil {
		return err
	}

	c.Log.Level = getEnv("LINEAGE_SYNC_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LINEAGE_SYNC_LOG_FILE", c.Log.File)
	c.Metrics.PushgatewayURL = getEnv("LINEAGE_SYNC_PUSHGATEWAY_URL", c.Metrics.PushgatewayURL)
	return nil
}

func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("postgres dsn is required (LINEAGE_SYNC_POSTGRES_DSN)")
	}
	if c.Neo4j.URI == "" {
		return errors.New("neo4j uri is required (NEO4J_URI)")
	}
	if c.Sync.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.NodeWorkers <= 0 {
		return errors.Errorf("node workers must be positive, got %d", c.Sync.NodeWorkers)
	}
	if c.Sync.RelationshipWorkers <= 0 {
		return errors.Errorf("relationship workers must be positive, got %d", c.Sync.RelationshipWorkers)
	}
	if c.Sync.Window <= 0 {
		return errors.Errorf("window must be positive, got %s", c.Sync.Window)
	}
	return nil
}

// LogLevel parses Log.Level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid integer for %s", key)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration for %s", key)
	}
	return value, nil
}
