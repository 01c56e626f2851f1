package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospital/booking/internal/config"
	"github.com/hospital/booking/internal/platform/blobstore"
	"github.com/hospital/booking/internal/platform/db"
	"github.com/hospital/booking/internal/platform/notification"
	"github.com/hospital/booking/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "booking-server",
		Short: "Hospital appointment booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(jobsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtimeDeps are the clients shared by the server and the batch jobs.
type runtimeDeps struct {
	pool       *pgxpool.Pool
	redis      *redis.Client
	dispatcher *notification.Dispatcher
	exports    blobstore.BlobStore
}

func openDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtimeDeps, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	d := &runtimeDeps{pool: pool}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		d.redis = redis.NewClient(opts)
		if err := d.redis.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	notifier, err := buildNotifier(cfg, d.redis, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.dispatcher = notification.NewDispatcher(notifier, 0, logger)

	if d.exports, err = blobstore.NewDirBlobStore(cfg.ExportDir); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Close flushes pending notifications before releasing connections.
func (d *runtimeDeps) Close() {
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	d.pool.Close()
}

// buildNotifier publishes to Redis and/or a webhook when configured and
// falls back to the log otherwise.
func buildNotifier(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (notification.Notifier, error) {
	var out notification.Fanout
	if rdb != nil {
		out = append(out, notification.NewRedisPublisher(rdb, cfg.NotifyChannel))
	}
	if cfg.WebhookURL != "" {
		hook, err := webhook.New(cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("NOTIFY_WEBHOOK_URL: %w", err)
		}
		out = append(out, hook)
	}
	if len(out) == 0 {
		return notification.LogNotifier{Logger: logger}, nil
	}
	return out, nil
}
