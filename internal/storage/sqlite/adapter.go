package sqlite

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db         *sqlx.DB
	collection string
}

// NewSQLiteStorage creates a new SQLite storage instance bound to collection
func NewSQLiteStorage(dbPath, collection string) (storage.Storage, error) {
	if collection == "" {
		collection = storage.DefaultCollection
	}

	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &sqliteStorage{db: db, collection: collection}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate applies the embedded schema migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// InsertSnapshot stores a snapshot document
func (s *sqliteStorage) InsertSnapshot(ctx context.Context, doc *domain.SnapshotDocument) error {
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
func (s *sqliteStorage) ListSnapshots(ctx context.Context) ([]*domain.SnapshotDocument, error) {
	var rows []storage.SnapshotRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, collection, task_id, worker_id, data, created_at
		FROM snapshots
		WHERE collection = ?
		ORDER BY created_at, rowid
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
func (s *sqliteStorage) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("failed to reset collection %s: %w", s.collection, err)
	}
	return nil
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
