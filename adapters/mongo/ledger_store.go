package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
)

// LedgerStore snapshots cost entries to MongoDB. The core never requires
// persistence; this adapter lets deployments carry spend across restarts.
type LedgerStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.LedgerStore = (*LedgerStore)(nil)

// NewClient connects with conservative pool settings and verifies the
// connection with a ping.
func NewClient(uri string, logger *zap.Logger) (*mongo.Client, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB")
	return client, nil
}

// NewLedgerStore binds the store to the cost_entries collection.
func NewLedgerStore(db *mongo.Database, logger *zap.Logger) *LedgerStore {
	return &LedgerStore{
		collection: db.Collection("cost_entries"),
		logger:     logger,
	}
}

// Save replaces the snapshot with the given entries.
func (s *LedgerStore) Save(ctx context.Context, entries []entities.CostEntry) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, len(entries))
	for i, e := range entries {
		docs[i] = e
	}
	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("Ledger snapshot saved", zap.Int("entries", len(entries)))
	return nil
}

// Load returns all entries sorted by timestamp so replay preserves ledger
// monotonicity.
func (s *LedgerStore) Load(ctx context.Context) ([]entities.CostEntry, error) {
	opts := options.Find().SetSort(bson.M{"timestamp": 1})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []entities.CostEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return entries, nil
}
