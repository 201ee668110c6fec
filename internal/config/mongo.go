package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	if err := createIndexes(client, cfg.DBName); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

// createIndexes sets up the session-scoped access paths. Every collection
// except counters is queried with a session_id predicate.
func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	documentsCollection := db.Collection("documents")
	documentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "uploaded_at", Value: -1}}},
	}
	if _, err := documentsCollection.Indexes().CreateMany(context.Background(), documentIndexes); err != nil {
		return err
	}

	segmentsCollection := db.Collection("segments")
	segmentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "ordinal", Value: 1}}},
	}
	if _, err := segmentsCollection.Indexes().CreateMany(context.Background(), segmentIndexes); err != nil {
		return err
	}

	messagesCollection := db.Collection("messages")
	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: 1}}},
	}
	if _, err := messagesCollection.Indexes().CreateMany(context.Background(), messageIndexes); err != nil {
		return err
	}

	sessionsCollection := db.Collection("sessions")
	sessionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "last_active_at", Value: 1}}},
	}
	if _, err := sessionsCollection.Indexes().CreateMany(context.Background(), sessionIndexes); err != nil {
		return err
	}

	checkpointsCollection := db.Collection("checkpoints")
	checkpointIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "step", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := checkpointsCollection.Indexes().CreateMany(context.Background(), checkpointIndexes); err != nil {
		return err
	}

	return nil
}
