package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/acme-studios/cf-rag-agent/models"
)

// TouchSession creates the session lazily on first contact and refreshes
// its activity timestamp on every subsequent one.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	now := time.Now()
	_, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{
			"$set":         bson.M{"last_active_at": now},
			"$setOnInsert": bson.M{"created_at": now, "document_count": 0, "message_count": 0},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) IncSessionDocuments(ctx context.Context, sessionID string, delta int) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$inc": bson.M{"document_count": delta}},
	)
	return err
}

// ExpiredSessions returns sessions whose last activity predates the cutoff.
func (s *Store) ExpiredSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	cursor, err := s.sessions.Find(ctx, bson.M{"last_active_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []models.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) DeleteSessionRow(ctx context.Context, sessionID string) error {
	_, err := s.sessions.DeleteOne(ctx, bson.M{"_id": sessionID})
	return err
}
