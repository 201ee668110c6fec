package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Checkpoint rows are the pipeline's step ledger: one row per completed
// step, holding the compressed step output. A task re-delivered after a
// crash resumes at the first step with no checkpoint.
type checkpointRow struct {
	DocumentID  string    `bson:"document_id"`
	Step        string    `bson:"step"`
	Payload     []byte    `bson:"payload"`
	Compression string    `bson:"compression"`
	CompletedAt time.Time `bson:"completed_at"`
}

func (s *Store) SaveCheckpoint(ctx context.Context, documentID, step string, payload []byte, compression string) error {
	_, err := s.checkpoints.UpdateOne(ctx,
		bson.M{"document_id": documentID, "step": step},
		bson.M{"$set": checkpointRow{
			DocumentID:  documentID,
			Step:        step,
			Payload:     payload,
			Compression: compression,
			CompletedAt: time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

// LoadCheckpoint returns the stored step output, or ok=false when the step
// has not completed yet.
func (s *Store) LoadCheckpoint(ctx context.Context, documentID, step string) (payload []byte, compression string, ok bool, err error) {
	var row checkpointRow
	err = s.checkpoints.FindOne(ctx, bson.M{"document_id": documentID, "step": step}).Decode(&row)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	return row.Payload, row.Compression, true, nil
}

func (s *Store) DeleteCheckpoints(ctx context.Context, documentID string) error {
	_, err := s.checkpoints.DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}
