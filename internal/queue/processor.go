package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/internal/store"
	"github.com/acme-studios/cf-rag-agent/models"
	"github.com/acme-studios/cf-rag-agent/services"
	"github.com/acme-studios/cf-rag-agent/utils"
)

// Pipeline step names, also the checkpoint keys.
const (
	stepExtract   = "extract"
	stepSegment   = "segment"
	stepVectorize = "vectorize"
)

const (
	stepAttempts = 3
	stepBackoff  = 500 * time.Millisecond
)

// ProcessorStore is the row-store slice the pipeline needs.
type ProcessorStore interface {
	GetDocument(ctx context.Context, id, sessionID string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error
	UpdateDocumentProgress(ctx context.Context, id, stage string, progress int) error
	SetDocumentChunks(ctx context.Context, id string, totalChunks, pages int) error
	SaveCheckpoint(ctx context.Context, documentID, step string, payload []byte, compression string) error
	LoadCheckpoint(ctx context.Context, documentID, step string) ([]byte, string, bool, error)
	DeleteCheckpoints(ctx context.Context, documentID string) error
}

// TextEmbedder is the embedding capability, satisfied by *ai.Embedder.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Persister writes segments to both stores, satisfied by *services.Indexer.
type Persister interface {
	Persist(ctx context.Context, documentID, sessionID, filename string, segments []services.SegmentInput, vectors [][]float32) (int, error)
}

// TaskProcessor runs the ingestion pipeline: extract, segment, vectorize,
// persist, finalize. Each step writes its output to the checkpoint ledger
// before the next starts, so a task re-delivered after a crash skips every
// step that already completed and re-runs only the one in flight.
type TaskProcessor struct {
	store     ProcessorStore
	extractor *services.Extractor
	segmenter *services.Segmenter
	embedder  TextEmbedder
	indexer   Persister
}

func NewTaskProcessor(st ProcessorStore, extractor *services.Extractor, segmenter *services.Segmenter, embedder TextEmbedder, indexer Persister) *TaskProcessor {
	return &TaskProcessor{
		store:     st,
		extractor: extractor,
		segmenter: segmenter,
		embedder:  embedder,
		indexer:   indexer,
	}
}

type extractOutput struct {
	Text        string `json:"text"`
	Pages       int    `json:"pages"`
	PageOffsets []int  `json:"pageOffsets,omitempty"`
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid ingest payload: %v: %w", err, asynq.SkipRetry)
	}

	doc, err := p.store.GetDocument(ctx, payload.DocumentID, payload.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted while queued. Nothing to do.
			logger.Info("Ingest skipped, document gone", "document", payload.DocumentID)
			return nil
		}
		return fmt.Errorf("failed to load document %s: %w", payload.DocumentID, err)
	}

	// Terminal states never reprocess. A ready document re-delivered after
	// a crash between finalize and ack is a no-op, and a failed one stays
	// failed until the user re-uploads.
	switch doc.Status {
	case models.StatusReady:
		logger.Info("Ingest skipped, document already processed", "document", doc.ID)
		return nil
	case models.StatusError:
		logger.Warn("Ingest skipped, document in failed state", "document", doc.ID)
		return nil
	}

	logger.Info("Ingest started", "document", doc.ID, "session", doc.SessionID, "filename", doc.Filename)

	ext, err := p.runExtract(ctx, doc)
	if err != nil {
		return p.fail(ctx, doc, "extract", err)
	}

	pieces, err := p.runSegment(ctx, doc, ext)
	if err != nil {
		return p.fail(ctx, doc, "segment", err)
	}

	vectors, err := p.runVectorize(ctx, doc, pieces)
	if err != nil {
		return p.fail(ctx, doc, "vectorize", err)
	}

	if err := p.store.UpdateDocumentProgress(ctx, doc.ID, "persisting", 80); err != nil {
		logger.Warn("Failed to update progress", "document", doc.ID, "error", err)
	}

	inputs := make([]services.SegmentInput, len(pieces))
	for i, piece := range pieces {
		inputs[i] = services.SegmentInput{
			Text:    piece.Text,
			Ordinal: piece.Ordinal,
			Page:    services.PageForOffset(ext.PageOffsets, piece.Start),
		}
	}

	// Persist is idempotent: it clears any rows and vectors a previous
	// partial attempt left behind before writing, so no checkpoint needed.
	count, err := p.indexer.Persist(ctx, doc.ID, doc.SessionID, doc.Filename, inputs, vectors)
	if err != nil {
		return p.fail(ctx, doc, "persist", err)
	}

	if err := p.finalize(ctx, doc, count, ext.Pages); err != nil {
		return p.fail(ctx, doc, "finalize", err)
	}

	logger.Info("Ingest complete", "document", doc.ID, "segments", count, "pages", ext.Pages)
	return nil
}

func (p *TaskProcessor) runExtract(ctx context.Context, doc *models.Document) (*extractOutput, error) {
	var out extractOutput
	if ok, err := p.loadStep(ctx, doc.ID, stepExtract, &out); err != nil {
		return nil, err
	} else if ok {
		logger.Info("Step already complete, skipping", "document", doc.ID, "step", stepExtract)
		return &out, nil
	}

	if err := p.store.UpdateDocumentProgress(ctx, doc.ID, "extracting", 20); err != nil {
		logger.Warn("Failed to update progress", "document", doc.ID, "error", err)
	}

	err := RetryWithBackoff(ctx, stepAttempts, stepBackoff, func() error {
		content, err := os.ReadFile(doc.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				return Fatal(fmt.Errorf("stored file missing: %w", err))
			}
			return err
		}
		ext, err := p.extractor.Extract(ctx, content, doc.ContentType)
		if err != nil {
			if errors.Is(err, services.ErrUnsupportedType) || errors.Is(err, services.ErrNoText) {
				return Fatal(err)
			}
			return err
		}
		out = extractOutput{Text: ext.Text, Pages: ext.Pages, PageOffsets: ext.PageOffsets}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := p.saveStep(ctx, doc.ID, stepExtract, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *TaskProcessor) runSegment(ctx context.Context, doc *models.Document, ext *extractOutput) ([]services.Piece, error) {
	var pieces []services.Piece
	if ok, err := p.loadStep(ctx, doc.ID, stepSegment, &pieces); err != nil {
		return nil, err
	} else if ok {
		logger.Info("Step already complete, skipping", "document", doc.ID, "step", stepSegment)
		return pieces, nil
	}

	if err := p.store.UpdateDocumentProgress(ctx, doc.ID, "segmenting", 40); err != nil {
		logger.Warn("Failed to update progress", "document", doc.ID, "error", err)
	}

	pieces = p.segmenter.Split(ext.Text)
	if len(pieces) == 0 {
		return nil, Fatal(services.ErrNoText)
	}

	if err := p.saveStep(ctx, doc.ID, stepSegment, pieces); err != nil {
		return nil, err
	}
	return pieces, nil
}

func (p *TaskProcessor) runVectorize(ctx context.Context, doc *models.Document, pieces []services.Piece) ([][]float32, error) {
	var vectors [][]float32
	if ok, err := p.loadStep(ctx, doc.ID, stepVectorize, &vectors); err != nil {
		return nil, err
	} else if ok {
		logger.Info("Step already complete, skipping", "document", doc.ID, "step", stepVectorize)
		return vectors, nil
	}

	if err := p.store.UpdateDocumentProgress(ctx, doc.ID, "embedding", 60); err != nil {
		logger.Warn("Failed to update progress", "document", doc.ID, "error", err)
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}

	err := RetryWithBackoff(ctx, stepAttempts, stepBackoff, func() error {
		var embedErr error
		vectors, embedErr = p.embedder.EmbedTexts(ctx, texts)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	if err := p.saveStep(ctx, doc.ID, stepVectorize, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *TaskProcessor) finalize(ctx context.Context, doc *models.Document, count, pages int) error {
	if err := p.store.SetDocumentChunks(ctx, doc.ID, count, pages); err != nil {
		return err
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, models.StatusReady, ""); err != nil {
		return err
	}
	if err := p.store.DeleteCheckpoints(ctx, doc.ID); err != nil {
		logger.Warn("Failed to clear checkpoints", "document", doc.ID, "error", err)
	}
	return nil
}

// fail routes a step error: fatal errors mark the document failed and stop
// redelivery, transient ones surface to asynq so the task comes back and
// resumes from the ledger.
func (p *TaskProcessor) fail(ctx context.Context, doc *models.Document, step string, err error) error {
	if errors.Is(err, ErrFatal) {
		logger.Error("Ingest failed permanently", "document", doc.ID, "step", step, "error", err)
		if uerr := p.store.UpdateDocumentStatus(ctx, doc.ID, models.StatusError, err.Error()); uerr != nil {
			logger.Error("Failed to mark document failed", "document", doc.ID, "error", uerr)
		}
		return fmt.Errorf("%s: %v: %w", step, err, asynq.SkipRetry)
	}
	logger.Warn("Ingest step failed, will retry", "document", doc.ID, "step", step, "error", err)
	return fmt.Errorf("%s: %w", step, err)
}

func (p *TaskProcessor) loadStep(ctx context.Context, documentID, step string, v any) (bool, error) {
	payload, compression, ok, err := p.store.LoadCheckpoint(ctx, documentID, step)
	if err != nil || !ok {
		return false, err
	}
	raw, err := utils.DecompressData(payload, utils.CompressionAlgorithm(compression))
	if err != nil {
		// A corrupt checkpoint is not worth failing the task over; redo
		// the step and overwrite it.
		logger.Warn("Discarding unreadable checkpoint", "document", documentID, "step", step, "error", err)
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Warn("Discarding unreadable checkpoint", "document", documentID, "step", step, "error", err)
		return false, nil
	}
	return true, nil
}

func (p *TaskProcessor) saveStep(ctx context.Context, documentID, step string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s checkpoint: %w", step, err)
	}
	algorithm := utils.GetBestCompression(raw)
	compressed, err := utils.CompressData(raw, algorithm)
	if err != nil {
		return fmt.Errorf("failed to compress %s checkpoint: %w", step, err)
	}
	if err := p.store.SaveCheckpoint(ctx, documentID, step, compressed, string(algorithm)); err != nil {
		return fmt.Errorf("failed to save %s checkpoint: %w", step, err)
	}
	return nil
}

// NewErrorHandler marks a document failed once asynq gives up on its task.
func NewErrorHandler(st ProcessorStore) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		if task.Type() != TypeDocumentIngest {
			return
		}
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried < maxRetry {
			return
		}
		var payload IngestPayload
		if jerr := json.Unmarshal(task.Payload(), &payload); jerr != nil {
			return
		}
		logger.Error("Ingest retries exhausted", "document", payload.DocumentID, "error", err)
		if uerr := st.UpdateDocumentStatus(ctx, payload.DocumentID, models.StatusError, "processing failed after retries: "+err.Error()); uerr != nil {
			logger.Error("Failed to mark document failed", "document", payload.DocumentID, "error", uerr)
		}
	}
}
