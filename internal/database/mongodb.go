package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"zikaron/internal/models"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionMemoryItems     = "memory_items"
	CollectionRoutingConcepts = "routing_concepts"
	CollectionEntityNodes     = "kg_entity_nodes"
	CollectionEntityEdges     = "kg_entity_edges"
	CollectionActionStats     = "action_stats"
	CollectionGhosts          = "ghost_records"
)

// NewMongoDB creates a new MongoDB connection with connection pooling
func NewMongoDB(uri string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)
	if dbName == "" {
		dbName = "zikaron"
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)

	return db, nil
}

// extractDBName extracts the database name from MongoDB URI
func extractDBName(uri string) string {
	// mongodb://localhost:27017/zikaron?authSource=admin -> zikaron
	lastSlash := -1
	questionMark := -1

	for i, c := range uri {
		if c == '/' {
			lastSlash = i
		}
		if c == '?' && questionMark == -1 {
			questionMark = i
		}
	}

	if lastSlash != -1 {
		start := lastSlash + 1
		end := len(uri)
		if questionMark != -1 && questionMark > lastSlash {
			end = questionMark
		}
		if start < end {
			dbName := uri[start:end]
			if dbName != "" {
				return dbName
			}
		}
	}

	return "zikaron"
}

// memoryItemIndexes defines the memory_items indexes. The dedup index
// is unique over ACTIVE items only: the lifecycle automaton archives
// items instead of deleting them, and an archived copy of the same
// content must never block re-storing a fact the user learned again.
func memoryItemIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "tier", Value: 1}, {Key: "status", Value: 1}}},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "contentHash", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": models.StatusActive}),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "wilsonScore", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}}, // TTL eviction scans
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "needsIndex", Value: 1}}},                           // deferred reindex sweep
		{Keys: bson.D{{Key: "source.documentId", Value: 1}}},                                               // full-source purge
	}
}

// Initialize creates indexes for all collections
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")

	// Memory items: search filters, dedup, lifecycle scans
	if err := m.createIndexes(ctx, CollectionMemoryItems, memoryItemIndexes()); err != nil {
		return fmt.Errorf("failed to create memory_items indexes: %w", err)
	}

	// Routing concepts: one stats record per (owner, concept)
	if err := m.createIndexes(ctx, CollectionRoutingConcepts, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "concept", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("failed to create routing_concepts indexes: %w", err)
	}

	// Entity nodes: one node per (owner, label); orphan cleanup scans
	if err := m.createIndexes(ctx, CollectionEntityNodes, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "label", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "memoryIds", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create kg_entity_nodes indexes: %w", err)
	}

	// Entity edges: one edge per (owner, ordered label pair)
	if err := m.createIndexes(ctx, CollectionEntityEdges, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "labelA", Value: 1}, {Key: "labelB", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("failed to create kg_entity_edges indexes: %w", err)
	}

	// Action effectiveness: one record per (owner, context, action)
	if err := m.createIndexes(ctx, CollectionActionStats, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "contextType", Value: 1}, {Key: "actionType", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("failed to create action_stats indexes: %w", err)
	}

	// Ghost records: tier-scoped clears and the expiry sweep
	if err := m.createIndexes(ctx, CollectionGhosts, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "itemId", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "tier", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create ghost_records indexes: %w", err)
	}

	log.Println("✅ MongoDB indexes initialized successfully")
	return nil
}

// createIndexes creates indexes for a collection
func (m *MongoDB) createIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := m.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection returns a collection handle
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Client returns the underlying MongoDB client
func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

// Database returns the underlying MongoDB database
func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 Closing MongoDB connection...")
	return m.client.Disconnect(ctx)
}

// Ping checks if the database connection is alive
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
