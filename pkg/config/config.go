// Package config defines the trainer configuration and its defaults.
//
// Values are layered by Load: defaults < YAML file (TRAINER_CONFIG) <
// TRAINER_* environment variables < AIP_MODEL_DIR.
package config

import (
	"time"
)

// DefaultOutputDir is used when neither the config nor AIP_MODEL_DIR sets one.
const DefaultOutputDir = "/tmp/model"

// Config is the full trainer configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// OutputDir is a local directory or a gs:// prefix.
	OutputDir string `koanf:"output_dir" validate:"required"`

	Entities EntitiesConfig `koanf:"entities"`

	// Features are "<group>:<name>" references used as model inputs.
	Features []string `koanf:"features" validate:"min=1,dive,featureref"`

	// Target is the label column, configured independently of Features.
	Target string `koanf:"target" validate:"required,featureref"`

	Model     ModelConfig     `koanf:"model"`
	Store     StoreConfig     `koanf:"store"`
	Artifacts ArtifactsConfig `koanf:"artifacts"`
}

// EntitiesConfig describes the synthetic entity table.
type EntitiesConfig struct {
	Key   string `koanf:"key" validate:"required,identifier"`
	Count int    `koanf:"count" validate:"gte=0"`
}

// ModelConfig holds the random forest hyperparameters.
type ModelConfig struct {
	NEstimators     int   `koanf:"n_estimators" validate:"min=1"`
	RandomState     int64 `koanf:"random_state"`
	MaxDepth        int   `koanf:"max_depth" validate:"ne=0"`
	MinSamplesSplit int   `koanf:"min_samples_split" validate:"min=2"`
	MinSamplesLeaf  int   `koanf:"min_samples_leaf" validate:"min=1"`
	MaxFeatures     int   `koanf:"max_features" validate:"gte=0"`
	NJobs           int   `koanf:"n_jobs"`
}

// StoreConfig selects and configures the feature store backend.
type StoreConfig struct {
	Backend  string         `koanf:"backend" validate:"oneof=sqlite postgres mongo redis memory"`
	TTL      time.Duration  `koanf:"ttl" validate:"gte=0"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Redis    RedisConfig    `koanf:"redis"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type MongoConfig struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

// ArtifactsConfig toggles the supplementary outputs.
type ArtifactsConfig struct {
	Plot       bool `koanf:"plot"`
	Prometheus bool `koanf:"prometheus"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		OutputDir: DefaultOutputDir,
		Entities: EntitiesConfig{
			Key:   "user_id",
			Count: 50,
		},
		Features: []string{"user_features:avg_rating", "user_features:num_ratings"},
		Target:   "user_features:avg_rating",
		Model: ModelConfig{
			NEstimators:     100,
			RandomState:     42,
			MaxDepth:        -1,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
			MaxFeatures:     0,
			NJobs:           1,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			SQLite:  SQLiteConfig{Path: "my_feature_repo/data/offline_store.db"},
			Mongo:   MongoConfig{URI: "mongodb://localhost:27017", Database: "feature_store"},
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Artifacts: ArtifactsConfig{
			Plot:       true,
			Prometheus: true,
		},
	}
}
