package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/acme-studios/cf-rag-agent/internal/config"
)

// VectorEntry is one point in the vector index. The id is the segment's
// row-store id; the payload fields are an advisory mirror for debugging
// and display, never a substitute for the row store's text.
type VectorEntry struct {
	ID         int64
	Vector     []float32
	SessionID  string
	DocumentID string
	Filename   string
	Ordinal    int
}

// VectorMatch is a search hit: a segment id with its similarity score.
type VectorMatch struct {
	ID    int64   `json:"id"`
	Score float64 `json:"score"`
}

// VectorIndex is the similarity-search capability used by the indexer and
// the retrieval engine.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []VectorEntry) error
	Search(ctx context.Context, sessionID string, vector []float32, topK int) ([]VectorMatch, error)
	DeleteByID(ctx context.Context, ids []int64) error
	DeleteBySession(ctx context.Context, sessionID string) error
}

// QdrantStore is a minimal REST client to Qdrant. One collection holds all
// sessions; every point carries a session_id payload field and every
// search runs under a session_id must-filter, which is the namespace
// boundary.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

func NewQdrantStore(cfg *config.Config) *QdrantStore {
	return &QdrantStore{
		url:        cfg.QdrantURL,
		apiKey:     cfg.QdrantAPIKey,
		collection: cfg.QdrantCollection,
		dimension:  cfg.VectorDimensions,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Init creates the collection if missing and indexes the session_id
// payload field so namespace filters stay fast.
func (s *QdrantStore) Init(ctx context.Context) error {
	if s.dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", s.dimension)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	if err := s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body); err != nil {
		return err
	}

	// Existing index returns a conflict; ignore it.
	indexBody := map[string]any{
		"field_name":   "session_id",
		"field_schema": "keyword",
	}
	_ = s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/index", s.url, s.collection), indexBody)

	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]map[string]any, len(entries))
	for i, entry := range entries {
		points[i] = map[string]any{
			"id":     entry.ID,
			"vector": entry.Vector,
			"payload": map[string]any{
				"session_id":  entry.SessionID,
				"document_id": entry.DocumentID,
				"filename":    entry.Filename,
				"ordinal":     entry.Ordinal,
			},
		}
	}

	body := map[string]any{"points": points}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body)
}

func (s *QdrantStore) Search(ctx context.Context, sessionID string, vector []float32, topK int) ([]VectorMatch, error) {
	if topK <= 0 {
		topK = 5
	}

	req := map[string]any{
		"vector": vector,
		"limit":  topK,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "session_id", "match": map[string]any{"value": sessionID}},
			},
		},
	}

	var resp struct {
		Result []VectorMatch `json:"result"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}

	return resp.Result, nil
}

func (s *QdrantStore) DeleteByID(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *QdrantStore) DeleteBySession(ctx context.Context, sessionID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "session_id", "match": map[string]any{"value": sessionID}},
			},
		},
	}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *QdrantStore) putJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (s *QdrantStore) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
