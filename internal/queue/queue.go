package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/acme-studios/cf-rag-agent/internal/logger"
)

const (
	TypeDocumentIngest = "document:ingest"

	QueueCritical = "critical"
	QueueDefault  = "default"
)

// IngestPayload identifies the document a task processes. The task body
// stays small on purpose; every step output lives in the checkpoint
// ledger, not in Redis.
type IngestPayload struct {
	DocumentID string `json:"document_id"`
	SessionID  string `json:"session_id"`
}

func NewIngestTask(documentID, sessionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{DocumentID: documentID, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ingest payload: %w", err)
	}
	return asynq.NewTask(TypeDocumentIngest, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Minute),
	), nil
}

// Enqueuer hands ingestion work to the worker pool.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(opt asynq.RedisClientOpt) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(opt)}
}

func (e *Enqueuer) EnqueueIngest(ctx context.Context, documentID, sessionID string) error {
	task, err := NewIngestTask(documentID, sessionID)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue ingest task: %w", err)
	}
	logger.Info("Ingest task enqueued", "document", documentID, "queue", info.Queue, "taskId", info.ID)
	return nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}
