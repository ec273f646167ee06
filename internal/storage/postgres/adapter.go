package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db         *sqlx.DB
	collection string
}

// NewPostgresStorage creates a new PostgreSQL storage instance bound to collection
func NewPostgresStorage(connStr, collection string) (storage.Storage, error) {
	if collection == "" {
		collection = storage.DefaultCollection
	}

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &postgresStorage{db: db, collection: collection}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate applies the embedded schema migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	dbDriver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// InsertSnapshot stores a snapshot document
func (s *postgresStorage) InsertSnapshot(ctx context.Context, doc *domain.SnapshotDocument) error {
	row, err := storage.NewSnapshotRow(s.collection, doc)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO snapshots (id, collection, task_id, worker_id, data, created_at)
		VALUES (:id, :collection, :task_id, :worker_id, :data, :created_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the collection's documents in insertion order
func (s *postgresStorage) ListSnapshots(ctx context.Context) ([]*domain.SnapshotDocument, error) {
	var rows []storage.SnapshotRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, collection, task_id, worker_id, data::text AS data, created_at
		FROM snapshots
		WHERE collection = $1
		ORDER BY created_at, id
	`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	docs := make([]*domain.SnapshotDocument, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].Document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Reset deletes the collection's documents
func (s *postgresStorage) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE collection = $1`, s.collection); err != nil {
		return fmt.Errorf("failed to reset collection %s: %w", s.collection, err)
	}
	return nil
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
