package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-practice-stats/internal/config"
	"github.com/kurihiro0119/github-practice-stats/internal/logging"
	"github.com/kurihiro0119/github-practice-stats/internal/queue"
	"github.com/kurihiro0119/github-practice-stats/internal/queue/kafka"
	"github.com/kurihiro0119/github-practice-stats/internal/queue/redis"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/bolt"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/mongo"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/postgres"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/sqlite"
)

var (
	cfgFile        string
	logLevel       string
	testCollection bool
	outputJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "github-practice-stats",
	Short: "GitHub development-practice statistics tool",
	Long: `A CLI tool for collecting development-practice statistics about public GitHub repositories.

This tool walks a window of days, searches the repositories pushed on each day,
classifies them as test-driven and DevOps repositories from their topics,
workflow files and commit messages, and merges the partial datasets of many
workers into one dataset for analysis.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env and the environment)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&testCollection, "test", false, "use the test collection")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig loads and validates the configuration and builds the process logger
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if testCollection {
		cfg.Collection = storage.TestCollection
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func getStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL, cfg.Collection)
	case "mongo":
		store, err = mongo.NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Collection)
	case "bolt":
		store, err = bolt.NewBoltStorage(cfg.BoltPath, cfg.Collection)
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath, cfg.Collection)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate storage: %w", err)
	}
	return store, nil
}

func getQueue(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (queue.Queue, error) {
	if err := cfg.ValidateQueue(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.QueueType {
	case "redis":
		return redis.New(ctx, redis.Config{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Key:        cfg.RedisKey,
			ConsumerID: consumerName(),
		}, logger)
	default:
		return kafka.New(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
		}, logger)
	}
}

// consumerName identifies this process among the queue consumers. It must be
// stable across restarts so unfinished deliveries are picked up again.
func consumerName() string {
	if consumerID != "" {
		return consumerID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}
