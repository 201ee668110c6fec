package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/acme-studios/cf-rag-agent/models"
)

func (s *Store) NextSegmentIDs(ctx context.Context, n int) (int64, error) {
	return s.NextSequence(ctx, "segments", n)
}

func (s *Store) InsertSegments(ctx context.Context, segments []models.Segment) error {
	if len(segments) == 0 {
		return nil
	}

	docs := make([]interface{}, len(segments))
	for i, seg := range segments {
		docs[i] = seg
	}

	_, err := s.segments.InsertMany(ctx, docs)
	return err
}

func (s *Store) SegmentIDsByDocument(ctx context.Context, documentID, sessionID string) ([]int64, error) {
	cursor, err := s.segments.Find(ctx,
		bson.M{"document_id": documentID, "session_id": sessionID},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var row struct {
			ID int64 `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cursor.Err()
}

// SegmentsByIDs returns the segments found under the session, keyed by id.
// Ids with no row (vector-index orphans) are simply absent from the map.
func (s *Store) SegmentsByIDs(ctx context.Context, sessionID string, ids []int64) (map[int64]models.Segment, error) {
	if len(ids) == 0 {
		return map[int64]models.Segment{}, nil
	}

	cursor, err := s.segments.Find(ctx, bson.M{
		"_id":        bson.M{"$in": ids},
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	byID := make(map[int64]models.Segment, len(ids))
	for cursor.Next(ctx) {
		var seg models.Segment
		if err := cursor.Decode(&seg); err != nil {
			return nil, err
		}
		byID[seg.ID] = seg
	}
	return byID, cursor.Err()
}

func (s *Store) DeleteSegmentsByDocument(ctx context.Context, documentID, sessionID string) error {
	_, err := s.segments.DeleteMany(ctx, bson.M{"document_id": documentID, "session_id": sessionID})
	return err
}

func (s *Store) DeleteSegmentsBySession(ctx context.Context, sessionID string) error {
	_, err := s.segments.DeleteMany(ctx, bson.M{"session_id": sessionID})
	return err
}
