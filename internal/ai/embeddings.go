package ai

import (
	"context"
	"fmt"
	"unicode/utf8"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/acme-studios/cf-rag-agent/internal/config"
)

// EmbeddingBackend is the raw embedding capability: N texts in, N vectors
// of fixed dimensionality out, order preserved.
type EmbeddingBackend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder batches texts to respect the upstream per-call maximum and
// truncates oversized inputs deterministically before embedding.
type Embedder struct {
	backend   EmbeddingBackend
	batchSize int
	maxChars  int
	dim       int
}

func NewEmbedder(ctx context.Context, cfg *config.Config) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	return NewEmbedderWithBackend(
		&geminiBackend{client: client, model: cfg.EmbeddingModel},
		cfg.EmbedBatchSize, cfg.EmbedMaxChars, cfg.VectorDimensions,
	), nil
}

func NewEmbedderWithBackend(backend EmbeddingBackend, batchSize, maxChars, dim int) *Embedder {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Embedder{backend: backend, batchSize: batchSize, maxChars: maxChars, dim: dim}
}

// Dimensions returns the fixed vector dimensionality.
func (e *Embedder) Dimensions() int {
	return e.dim
}

// EmbedTexts embeds the given texts in input order. Batch outputs are
// concatenated in original order; a text over the input-length ceiling is
// truncated on a rune boundary, never dropped.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = truncate(t, e.maxChars)
	}

	vectors := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += e.batchSize {
		end := start + e.batchSize
		if end > len(prepared) {
			end = len(prepared)
		}

		batch, err := e.backend.Embed(ctx, prepared[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d failed: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// truncate cuts s to at most max bytes, backing off to the previous rune
// boundary so the cut is the same on every call for the same input.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

type geminiBackend struct {
	client *genai.Client
	model  string
}

func (g *geminiBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
