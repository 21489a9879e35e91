package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultRecordCollection is used when no collection name is configured
const DefaultRecordCollection = "execution_records"

// recordDocument keeps the canonical JSON next to the indexed fields so that
// record hashes survive the round trip
type recordDocument struct {
	ID        string    `bson:"_id"`
	Sequence  uint64    `bson:"sequence"`
	ActionID  string    `bson:"actionId"`
	RuleID    string    `bson:"ruleId,omitempty"`
	Status    string    `bson:"status"`
	Timestamp time.Time `bson:"timestamp"`
	Hash      string    `bson:"hash"`
	Record    string    `bson:"record"`
}

// MongoSink stores execution records in a MongoDB collection
type MongoSink struct {
	collection *mongo.Collection
	// client is set when the sink opened the connection itself
	client *mongo.Client
}

var (
	_ interfaces.RecordSink   = (*MongoSink)(nil)
	_ interfaces.RecordSource = (*MongoSink)(nil)
)

// NewMongoSink creates a sink on db and ensures its indexes
func NewMongoSink(ctx context.Context, db *mongo.Database, collection string) (*MongoSink, error) {
	if collection == "" {
		collection = DefaultRecordCollection
	}
	s := &MongoSink{collection: db.Collection(collection)}

	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sequence", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "actionId", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution record indexes: %w", err)
	}

	log.Debug().Str("collection", collection).Msg("MongoDB execution sink ready")
	return s, nil
}

// ConnectMongoSink connects to uri and creates a sink that owns the client
func ConnectMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s, err := NewMongoSink(ctx, client.Database(database), collection)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s.client = client
	return s, nil
}

// Append inserts one record
func (s *MongoSink) Append(ctx context.Context, record *types.ExecutionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode execution record: %w", err)
	}

	_, err = s.collection.InsertOne(ctx, recordDocument{
		ID:        record.ID,
		Sequence:  record.Sequence,
		ActionID:  record.ActionID,
		RuleID:    record.RuleID,
		Status:    string(record.Status),
		Timestamp: record.Timestamp,
		Hash:      record.Hash,
		Record:    string(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to insert execution record %d: %w", record.Sequence, err)
	}
	return nil
}

// Load returns every record in sequence order
func (s *MongoSink) Load(ctx context.Context) ([]*types.ExecutionRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []recordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode execution records: %w", err)
	}

	records := make([]*types.ExecutionRecord, 0, len(docs))
	for _, doc := range docs {
		rec := &types.ExecutionRecord{}
		if err := json.Unmarshal([]byte(doc.Record), rec); err != nil {
			return nil, fmt.Errorf("failed to decode execution record %d: %w", doc.Sequence, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close disconnects the client when the sink owns it
func (s *MongoSink) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	s.client = nil
	return nil
}
