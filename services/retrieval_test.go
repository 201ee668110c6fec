package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-studios/cf-rag-agent/models"
)

type fakeQueryEmbedder struct {
	err error
}

func (f *fakeQueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.5, 0.5}, nil
}

type fakeRetrievalStore struct {
	segments  map[int64]models.Segment
	documents map[string]models.Document
}

func (f *fakeRetrievalStore) SegmentsByIDs(ctx context.Context, sessionID string, ids []int64) (map[int64]models.Segment, error) {
	out := make(map[int64]models.Segment)
	for _, id := range ids {
		if seg, ok := f.segments[id]; ok && seg.SessionID == sessionID {
			out[id] = seg
		}
	}
	return out, nil
}

func (f *fakeRetrievalStore) DocumentsByIDs(ctx context.Context, sessionID string, ids []string) (map[string]models.Document, error) {
	out := make(map[string]models.Document)
	for _, id := range ids {
		if doc, ok := f.documents[id]; ok && doc.SessionID == sessionID {
			out[id] = doc
		}
	}
	return out, nil
}

func retrievalFixture() (*fakeRetrievalStore, *fakeVectorIndex) {
	st := &fakeRetrievalStore{
		segments: map[int64]models.Segment{
			1: {ID: 1, SessionID: "sess-1", DocumentID: "doc-a", Ordinal: 0, Text: "alpha text", Page: 2},
			2: {ID: 2, SessionID: "sess-1", DocumentID: "doc-a", Ordinal: 1, Text: "beta text", Page: 3},
			3: {ID: 3, SessionID: "sess-2", DocumentID: "doc-b", Ordinal: 0, Text: "other session"},
		},
		documents: map[string]models.Document{
			"doc-a": {ID: "doc-a", SessionID: "sess-1", Filename: "report.pdf"},
			"doc-b": {ID: "doc-b", SessionID: "sess-2", Filename: "secret.pdf"},
		},
	}
	vx := &fakeVectorIndex{
		matches: []VectorMatch{
			{ID: 2, Score: 0.91},
			{ID: 1, Score: 0.74},
		},
	}
	return st, vx
}

func TestSearchReturnsResultsInScoreOrder(t *testing.T) {
	st, vx := retrievalFixture()
	engine := NewRetrievalEngine(&fakeQueryEmbedder{}, vx, st)

	results, err := engine.Search(context.Background(), "sess-1", "what is beta?", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "beta text", results[0].Text)
	assert.Equal(t, 0.91, results[0].Score)
	assert.Equal(t, "report.pdf", results[0].Citation.Filename)
	assert.Equal(t, 3, results[0].Citation.Page)
	assert.Equal(t, 1, results[0].Citation.Ordinal)

	assert.Equal(t, "alpha text", results[1].Text)
}

func TestSearchDropsOrphanedMatches(t *testing.T) {
	st, vx := retrievalFixture()
	// Vector entry 99 has no backing row.
	vx.matches = append(vx.matches, VectorMatch{ID: 99, Score: 0.5})
	engine := NewRetrievalEngine(&fakeQueryEmbedder{}, vx, st)

	results, err := engine.Search(context.Background(), "sess-1", "anything", 5)
	require.NoError(t, err)
	assert.Len(t, results, 2, "orphaned vector entries must be dropped silently")
}

func TestSearchNeverCrossesSessions(t *testing.T) {
	st, vx := retrievalFixture()
	// Simulate a poisoned index returning another session's point.
	vx.matches = []VectorMatch{{ID: 3, Score: 0.99}}
	engine := NewRetrievalEngine(&fakeQueryEmbedder{}, vx, st)

	results, err := engine.Search(context.Background(), "sess-1", "secrets", 5)
	require.NoError(t, err)
	assert.Empty(t, results, "row-store join must re-filter by session")
}

func TestSearchEmptyIndexIsNotAnError(t *testing.T) {
	st, _ := retrievalFixture()
	vx := &fakeVectorIndex{}
	engine := NewRetrievalEngine(&fakeQueryEmbedder{}, vx, st)

	results, err := engine.Search(context.Background(), "sess-1", "anything at all", 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearchPropagatesEmbeddingFailure(t *testing.T) {
	st, vx := retrievalFixture()
	engine := NewRetrievalEngine(&fakeQueryEmbedder{err: errors.New("quota exhausted")}, vx, st)

	_, err := engine.Search(context.Background(), "sess-1", "query", 5)
	assert.Error(t, err)
}
