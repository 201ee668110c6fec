package services

import (
	"context"
	"fmt"
	"os"

	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/models"
)

// DocumentStore is the slice of the row store the document service needs
// beyond what the indexer already covers.
type DocumentStore interface {
	DeleteCheckpoints(ctx context.Context, documentID string) error
	IncSessionDocuments(ctx context.Context, sessionID string, delta int) error
}

// DocumentService removes a document end to end: index entries first, then
// rows, then the stored file and any ingestion checkpoints. Vector-first
// ordering means a failure can leave inert rows behind but never index
// entries that point at deleted rows.
type DocumentService struct {
	indexer *Indexer
	store   DocumentStore
}

func NewDocumentService(indexer *Indexer, store DocumentStore) *DocumentService {
	return &DocumentService{indexer: indexer, store: store}
}

func (s *DocumentService) Remove(ctx context.Context, doc *models.Document) error {
	if err := s.indexer.Delete(ctx, doc.ID, doc.SessionID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", doc.ID, err)
	}

	if err := s.store.DeleteCheckpoints(ctx, doc.ID); err != nil {
		logger.Warn("Failed to delete ingestion checkpoints", "document", doc.ID, "error", err)
	}

	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove stored file", "path", doc.FilePath, "error", err)
		}
	}

	if err := s.store.IncSessionDocuments(ctx, doc.SessionID, -1); err != nil {
		logger.Warn("Failed to decrement session document count", "session", doc.SessionID, "error", err)
	}

	return nil
}
