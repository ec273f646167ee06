package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/github-practice-stats/internal/aggregator"
	"github.com/kurihiro0119/github-practice-stats/internal/api"
	"github.com/kurihiro0119/github-practice-stats/internal/config"
	"github.com/kurihiro0119/github-practice-stats/internal/logging"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/bolt"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/mongo"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/postgres"
	"github.com/kurihiro0119/github-practice-stats/internal/storage/sqlite"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default is .env and the environment)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize storage
	ctx := context.Background()
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL, cfg.Collection)
		if err != nil {
			logger.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	case "mongo":
		store, err = mongo.NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Collection)
		if err != nil {
			logger.Fatalf("Failed to initialize MongoDB storage: %v", err)
		}
	case "bolt":
		store, err = bolt.NewBoltStorage(cfg.BoltPath, cfg.Collection)
		if err != nil {
			logger.Fatalf("Failed to initialize bbolt storage: %v", err)
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath, cfg.Collection)
		if err != nil {
			logger.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate storage: %v", err)
	}

	// Initialize aggregator
	agg := aggregator.NewAggregator(store)

	// Initialize handler
	handler := api.NewHandler(agg, cfg.TopN)

	// Setup routes
	router := api.SetupRoutes(handler, logger)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.WithFields(logrus.Fields{
		"addr":       addr,
		"storage":    cfg.StorageType,
		"collection": cfg.Collection,
	}).Info("starting API server")

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}
