// Command trainer runs the random forest training job once and exits.
//
// Exit status is 0 on success and 1 on any error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/rftrainer/artifact"
	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/featurestore/mongo"
	"github.com/YuminosukeSato/rftrainer/featurestore/postgres"
	"github.com/YuminosukeSato/rftrainer/featurestore/redis"
	"github.com/YuminosukeSato/rftrainer/featurestore/sqlite"
	"github.com/YuminosukeSato/rftrainer/pipeline"
	"github.com/YuminosukeSato/rftrainer/pkg/config"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
	"github.com/YuminosukeSato/rftrainer/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// ロガー設定前なので標準エラーに出す
		fmt.Fprintf(os.Stderr, "failed to load config: %+v\n", err)
		os.Exit(1)
	}
	log.SetupLogger(cfg.LogLevel)
	log.EnableZerologWarnings(os.Stderr)

	if err := run(ctx, cfg); err != nil {
		log.GetLoggerWithName("trainer").Error("Training run failed", log.ErrAttr(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := artifact.Open(ctx, cfg.OutputDir)
	if err != nil {
		return err
	}
	defer sink.Close()

	_, err = pipeline.New(store, sink).Run(ctx, cfg)
	return err
}

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (featurestore.Store, error) {
	opts := []featurestore.StoreOption{featurestore.WithTTL(cfg.Store.TTL)}
	key := cfg.Entities.Key
	s := cfg.Store

	switch s.Backend {
	case "sqlite":
		return sqlite.Open(s.SQLite.Path, key, opts...)
	case "postgres":
		return postgres.Open(ctx, s.Postgres.DSN, key, opts...)
	case "mongo":
		return mongo.Open(ctx, s.Mongo.URI, s.Mongo.Database, key, opts...)
	case "redis":
		return redis.Open(ctx, s.Redis.Addr, s.Redis.Password, s.Redis.DB, opts...)
	case "memory":
		// 空のストアなので、どの特徴量も見つからず失敗する
		return featurestore.NewMemoryStore(opts...), nil
	default:
		return nil, errors.NewValidationError("store.backend", "unknown backend", s.Backend)
	}
}
