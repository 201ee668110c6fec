package services

import (
	"context"
	"fmt"
	"time"

	"github.com/acme-studios/cf-rag-agent/models"
)

// IndexerStore is the slice of the row store the consistency layer needs.
type IndexerStore interface {
	NextSegmentIDs(ctx context.Context, n int) (int64, error)
	InsertSegments(ctx context.Context, segments []models.Segment) error
	SegmentIDsByDocument(ctx context.Context, documentID, sessionID string) ([]int64, error)
	DeleteSegmentsByDocument(ctx context.Context, documentID, sessionID string) error
	DeleteDocumentRow(ctx context.Context, id, sessionID string) error
	DeleteSegmentsBySession(ctx context.Context, sessionID string) error
	DeleteDocumentsBySession(ctx context.Context, sessionID string) error
	DeleteMessagesBySession(ctx context.Context, sessionID string) error
	DeleteSessionRow(ctx context.Context, sessionID string) error
}

// SegmentInput is one segment ready for persistence, paired positionally
// with its embedding vector.
type SegmentInput struct {
	Text    string
	Ordinal int
	Page    int
}

// Indexer keeps the row store and the vector index consistent without a
// distributed transaction: rows are written first to obtain ids, vector
// points second under those same ids, and deletions run in the opposite
// order. A crash between the two writes can only leave inert orphan rows,
// never a vector entry pointing at missing text.
type Indexer struct {
	store   IndexerStore
	vectors VectorIndex
}

func NewIndexer(store IndexerStore, vectors VectorIndex) *Indexer {
	return &Indexer{store: store, vectors: vectors}
}

// Persist writes the document's segments and vectors as one logical unit
// and returns the segment count. Re-running for the same document replaces
// any previously persisted set instead of duplicating it.
func (ix *Indexer) Persist(ctx context.Context, documentID, sessionID, filename string, segments []SegmentInput, vectors [][]float32) (int, error) {
	if len(segments) != len(vectors) {
		return 0, fmt.Errorf("segment/vector count mismatch: %d vs %d", len(segments), len(vectors))
	}
	if len(segments) == 0 {
		return 0, nil
	}

	// Idempotence: drop whatever an earlier attempt left behind, vectors
	// first.
	existing, err := ix.store.SegmentIDsByDocument(ctx, documentID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to read existing segments: %w", err)
	}
	if len(existing) > 0 {
		if err := ix.vectors.DeleteByID(ctx, existing); err != nil {
			return 0, fmt.Errorf("failed to delete stale vector entries: %w", err)
		}
		if err := ix.store.DeleteSegmentsByDocument(ctx, documentID, sessionID); err != nil {
			return 0, fmt.Errorf("failed to delete stale segments: %w", err)
		}
	}

	firstID, err := ix.store.NextSegmentIDs(ctx, len(segments))
	if err != nil {
		return 0, err
	}

	now := time.Now()
	rows := make([]models.Segment, len(segments))
	entries := make([]VectorEntry, len(segments))
	for i, seg := range segments {
		id := firstID + int64(i)
		rows[i] = models.Segment{
			ID:         id,
			SessionID:  sessionID,
			DocumentID: documentID,
			Ordinal:    seg.Ordinal,
			Text:       seg.Text,
			Page:       seg.Page,
			CreatedAt:  now,
		}
		entries[i] = VectorEntry{
			ID:         id,
			Vector:     vectors[i],
			SessionID:  sessionID,
			DocumentID: documentID,
			Filename:   filename,
			Ordinal:    seg.Ordinal,
		}
	}

	// Row store first: the assigned ids are the join key for the vector
	// entries.
	if err := ix.store.InsertSegments(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to insert segments: %w", err)
	}
	if err := ix.vectors.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("failed to upsert vector entries: %w", err)
	}

	return len(rows), nil
}

// Delete removes a document and everything derived from it. Vector entries
// go first so a crash mid-deletion leaves only inert orphan rows.
func (ix *Indexer) Delete(ctx context.Context, documentID, sessionID string) error {
	ids, err := ix.store.SegmentIDsByDocument(ctx, documentID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read segment ids: %w", err)
	}

	if err := ix.vectors.DeleteByID(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete vector entries: %w", err)
	}
	if err := ix.store.DeleteSegmentsByDocument(ctx, documentID, sessionID); err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}
	if err := ix.store.DeleteDocumentRow(ctx, documentID, sessionID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// DeleteSession cascades a session's entire footprint: vector entries
// first, then every row owned by the session.
func (ix *Indexer) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ix.vectors.DeleteBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session vectors: %w", err)
	}
	if err := ix.store.DeleteSegmentsBySession(ctx, sessionID); err != nil {
		return err
	}
	if err := ix.store.DeleteDocumentsBySession(ctx, sessionID); err != nil {
		return err
	}
	if err := ix.store.DeleteMessagesBySession(ctx, sessionID); err != nil {
		return err
	}
	return ix.store.DeleteSessionRow(ctx, sessionID)
}
