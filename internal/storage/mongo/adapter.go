package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
)

// DefaultDatabase is the database holding the snapshot collections
const DefaultDatabase = "GitRepoStatsDB"

// mongoStorage implements the Storage interface for MongoDB
type mongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStorage connects to uri and binds the storage to database.collection
func NewMongoStorage(ctx context.Context, uri, database, collection string) (storage.Storage, error) {
	if database == "" {
		database = DefaultDatabase
	}
	if collection == "" {
		collection = storage.DefaultCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &mongoStorage{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Migrate ensures the insertion-order index exists
func (s *mongoStorage) Migrate(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// InsertSnapshot stores a snapshot document
func (s *mongoStorage) InsertSnapshot(ctx context.Context, doc *domain.SnapshotDocument) error {
	record, err := toDocument(doc)
	if err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the collection's documents in insertion order
func (s *mongoStorage) ListSnapshots(ctx context.Context) ([]*domain.SnapshotDocument, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var records []snapshotDocument
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}

	docs := make([]*domain.SnapshotDocument, 0, len(records))
	for i := range records {
		doc, err := records[i].toDomain()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Reset drops the collection
func (s *mongoStorage) Reset(ctx context.Context) error {
	if err := s.collection.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", s.collection.Name(), err)
	}
	return s.Migrate(ctx)
}

// Close disconnects from the server
func (s *mongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
