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

// ErrNotFound is returned when a row is absent or owned by another session.
var ErrNotFound = errors.New("not found")

func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.documents.InsertOne(ctx, doc)
	return err
}

// GetDocument fetches a document scoped to its owning session. A document
// owned by another session is indistinguishable from a missing one.
func (s *Store) GetDocument(ctx context.Context, id, sessionID string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": id, "session_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, sessionID string) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.M{"uploaded_at": -1}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := make([]models.Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// DocumentsByIDs returns the subset of the given documents that exist
// under the session, keyed by id.
func (s *Store) DocumentsByIDs(ctx context.Context, sessionID string, ids []string) (map[string]models.Document, error) {
	if len(ids) == 0 {
		return map[string]models.Document{}, nil
	}

	cursor, err := s.documents.Find(ctx, bson.M{
		"_id":        bson.M{"$in": ids},
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	byID := make(map[string]models.Document, len(ids))
	for cursor.Next(ctx) {
		var doc models.Document
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		byID[doc.ID] = doc
	}
	return byID, cursor.Err()
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMessage != "" {
		set["error_message"] = errorMessage
	}
	if status == models.StatusReady {
		now := time.Now()
		set["processed_at"] = &now
		set["progress"] = 100
	}

	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

// UpdateDocumentProgress records the current pipeline stage so an observer
// polling the document sees live status.
func (s *Store) UpdateDocumentProgress(ctx context.Context, id, stage string, progress int) error {
	_, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"status":     models.StatusProcessing,
			"stage":      stage,
			"progress":   progress,
			"updated_at": time.Now(),
		}},
	)
	return err
}

func (s *Store) SetDocumentChunks(ctx context.Context, id string, totalChunks, pages int) error {
	_, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"total_chunks": totalChunks,
			"pages":        pages,
			"updated_at":   time.Now(),
		}},
	)
	return err
}

func (s *Store) DeleteDocumentRow(ctx context.Context, id, sessionID string) error {
	_, err := s.documents.DeleteOne(ctx, bson.M{"_id": id, "session_id": sessionID})
	return err
}

func (s *Store) DeleteDocumentsBySession(ctx context.Context, sessionID string) error {
	_, err := s.documents.DeleteMany(ctx, bson.M{"session_id": sessionID})
	return err
}
