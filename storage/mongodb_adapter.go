package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultMongoCollection holds vault records when no collection is configured
const DefaultMongoCollection = "vault_records"

type mongoRecord struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoAdapter implements interfaces.Store with one document per key
type MongoAdapter struct {
	collection *mongo.Collection
	client     *mongo.Client
}

var _ interfaces.Store = (*MongoAdapter)(nil)

// NewMongoAdapter creates a store on an existing collection. Close does not
// disconnect a client it did not create.
func NewMongoAdapter(collection *mongo.Collection) *MongoAdapter {
	return &MongoAdapter{collection: collection}
}

// ConnectMongo connects to uri and returns a store on database.collection
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoAdapter, error) {
	if collection == "" {
		collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Debug().
		Str("database", database).
		Str("collection", collection).
		Msg("MongoDB store connected")

	return &MongoAdapter{
		collection: client.Database(database).Collection(collection),
		client:     client,
	}, nil
}

// Get returns the value stored under key
func (m *MongoAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	var record mongoRecord
	err := m.collection.FindOne(ctx, bson.M{"_id": key}, options.FindOne().SetProjection(bson.M{"value": 1})).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return record.Value, nil
}

// Put upserts value under key
func (m *MongoAdapter) Put(ctx context.Context, key string, value []byte) error {
	_, err := m.collection.UpdateOne(
		ctx,
		bson.M{"_id": key},
		bson.M{
			"$set": bson.M{
				"value":     value,
				"updatedAt": time.Now().UTC(),
			},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (m *MongoAdapter) Delete(ctx context.Context, key string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close disconnects the client when the adapter owns it
func (m *MongoAdapter) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
