// Package store implements the row store on MongoDB. Every query except
// the counter allocation carries a session_id predicate; that predicate is
// the isolation boundary the rest of the system relies on.
package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	documents   *mongo.Collection
	segments    *mongo.Collection
	messages    *mongo.Collection
	sessions    *mongo.Collection
	checkpoints *mongo.Collection
	counters    *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		documents:   db.Collection("documents"),
		segments:    db.Collection("segments"),
		messages:    db.Collection("messages"),
		sessions:    db.Collection("sessions"),
		checkpoints: db.Collection("checkpoints"),
		counters:    db.Collection("counters"),
	}
}

// NextSequence atomically allocates a contiguous block of n ids from the
// named counter and returns the first id of the block.
func (s *Store) NextSequence(ctx context.Context, name string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid sequence block size %d", n)
	}

	res := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&counter); err != nil {
		return 0, fmt.Errorf("failed to allocate sequence %s: %w", name, err)
	}

	return counter.Seq - int64(n) + 1, nil
}
