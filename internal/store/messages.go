package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/acme-studios/cf-rag-agent/models"
)

// AppendMessage assigns the message its sequential id and appends it to
// the session's history.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	id, err := s.NextSequence(ctx, "messages", 1)
	if err != nil {
		return err
	}
	msg.ID = id
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return err
	}

	_, err = s.sessions.UpdateOne(ctx,
		bson.M{"_id": msg.SessionID},
		bson.M{"$inc": bson.M{"message_count": 1}},
	)
	return err
}

// RecentMessages returns up to limit messages with the given roles, oldest
// first. Pass nil roles to include all of them.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int, roles []string) ([]models.Message, error) {
	filter := bson.M{"session_id": sessionID}
	if len(roles) > 0 {
		filter["role"] = bson.M{"$in": roles}
	}

	cursor, err := s.messages.Find(ctx, filter,
		options.Find().SetSort(bson.M{"_id": -1}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []models.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) DeleteMessagesBySession(ctx context.Context, sessionID string) error {
	if _, err := s.messages.DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return err
	}
	_, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"message_count": 0}},
	)
	return err
}
