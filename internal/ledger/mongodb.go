package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/querygate/server/internal/metrics"
)

// MongoDBStore implements Store using MongoDB.
// The unique index on signature plays the same role as the Postgres primary
// key: InsertFirstUse is a single conditional insert and the duplicate-key
// error is the replay signal.
type MongoDBStore struct {
	client     *mongo.Client
	signatures *mongo.Collection
	metrics    *metrics.Metrics
}

// mongoPaymentSignature is the BSON document shape for a ledger row.
type mongoPaymentSignature struct {
	Signature       string    `bson:"signature"`
	Network         string    `bson:"network"`
	Asset           string    `bson:"asset"`
	Amount          int64     `bson:"amount"`
	SenderAddress   string    `bson:"sender_address"`
	ReceiverAddress string    `bson:"receiver_address"`
	APIEndpoint     string    `bson:"api_endpoint"`
	FirstUsedAt     time.Time `bson:"first_used_at"`
	UsageCount      int64     `bson:"usage_count"`
	IPAddress       string    `bson:"ip_address"`
	UserAgent       string    `bson:"user_agent"`
}

// NewMongoDBStore creates a new MongoDB-backed ledger.
func NewMongoDBStore(connectionString, database string, m *metrics.Metrics) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store := &MongoDBStore{
		client:     client,
		signatures: client.Database(database).Collection("payment_signatures"),
		metrics:    m,
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

// createIndexes creates the unique index that enforces the replay invariant.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.signatures.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "signature", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create payment signatures index: %w", err)
	}
	return nil
}

// Lookup retrieves a payment signature record by signature.
func (s *MongoDBStore) Lookup(ctx context.Context, signature string) (*PaymentSignature, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("lookup", "mongodb", time.Since(start)) }()

	var doc mongoPaymentSignature
	err := s.signatures.FindOne(ctx, bson.M{"signature": signature}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment signature: %w", err)
	}

	rec := PaymentSignature(doc)
	return &rec, nil
}

// InsertFirstUse records first use of a signature.
// A duplicate-key error from the unique index is the replay signal.
func (s *MongoDBStore) InsertFirstUse(ctx context.Context, rec PaymentSignature) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("insert_first_use", "mongodb", time.Since(start)) }()

	rec.UsageCount = 1
	_, err := s.signatures.InsertOne(ctx, mongoPaymentSignature(rec))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateSignature
	}
	if err != nil {
		return fmt.Errorf("insert payment signature: %w", err)
	}
	return nil
}

// IncrementUsage atomically bumps the reuse counter for a signature.
func (s *MongoDBStore) IncrementUsage(ctx context.Context, signature string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("increment_usage", "mongodb", time.Since(start)) }()

	result, err := s.signatures.UpdateOne(ctx,
		bson.M{"signature": signature},
		bson.M{"$inc": bson.M{"usage_count": 1}},
	)
	if err != nil {
		return fmt.Errorf("increment usage count: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity to MongoDB.
func (s *MongoDBStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects the MongoDB client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
