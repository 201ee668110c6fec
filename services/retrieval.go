package services

import (
	"context"
	"fmt"

	"github.com/acme-studios/cf-rag-agent/models"
)

// QueryEmbedder is the single-text embedding capability.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RetrievalStore is the slice of the row store the retrieval engine reads.
type RetrievalStore interface {
	SegmentsByIDs(ctx context.Context, sessionID string, ids []int64) (map[int64]models.Segment, error)
	DocumentsByIDs(ctx context.Context, sessionID string, ids []string) (map[string]models.Document, error)
}

// SearchResult is one ranked hit: the segment's verbatim text, its
// similarity score, and a citation back to the source document.
type SearchResult struct {
	Text     string          `json:"text"`
	Score    float64         `json:"score"`
	Citation models.Citation `json:"citation"`
}

// RetrievalEngine answers semantic queries against a session's index. The
// vector search is namespace-restricted and the row-store join re-filters
// by session id, so a result can never cross a session boundary.
type RetrievalEngine struct {
	embedder QueryEmbedder
	vectors  VectorIndex
	store    RetrievalStore
}

func NewRetrievalEngine(embedder QueryEmbedder, vectors VectorIndex, store RetrievalStore) *RetrievalEngine {
	return &RetrievalEngine{embedder: embedder, vectors: vectors, store: store}
}

// Search returns up to topK results in the index-provided similarity
// order. Matches whose segment row is gone (orphaned vector entries) are
// dropped rather than surfaced as partial citations. An empty slice with a
// nil error means "nothing found" and is a valid outcome.
func (r *RetrievalEngine) Search(ctx context.Context, sessionID, query string, topK int) ([]SearchResult, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.vectors.Search(ctx, sessionID, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(matches) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}

	segments, err := r.store.SegmentsByIDs(ctx, sessionID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to join segments: %w", err)
	}

	docIDs := make([]string, 0, len(segments))
	seen := make(map[string]bool, len(segments))
	for _, seg := range segments {
		if !seen[seg.DocumentID] {
			seen[seg.DocumentID] = true
			docIDs = append(docIDs, seg.DocumentID)
		}
	}
	documents, err := r.store.DocumentsByIDs(ctx, sessionID, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve documents: %w", err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		seg, ok := segments[m.ID]
		if !ok {
			continue // orphaned vector entry
		}

		citation := models.Citation{Ordinal: seg.Ordinal, Page: seg.Page}
		if doc, ok := documents[seg.DocumentID]; ok {
			citation.Filename = doc.Filename
		}

		results = append(results, SearchResult{
			Text:     seg.Text,
			Score:    m.Score,
			Citation: citation,
		})
	}

	return results, nil
}
