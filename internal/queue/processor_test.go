package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-studios/cf-rag-agent/internal/store"
	"github.com/acme-studios/cf-rag-agent/models"
	"github.com/acme-studios/cf-rag-agent/services"
)

type checkpointKey struct {
	doc  string
	step string
}

type checkpointVal struct {
	payload     []byte
	compression string
}

type fakeProcessorStore struct {
	doc         *models.Document
	checkpoints map[checkpointKey]checkpointVal
	status      []string
	stages      []string
	chunks      int
	pages       int
}

func newFakeProcessorStore(doc *models.Document) *fakeProcessorStore {
	return &fakeProcessorStore{doc: doc, checkpoints: make(map[checkpointKey]checkpointVal)}
}

func (f *fakeProcessorStore) GetDocument(ctx context.Context, id, sessionID string) (*models.Document, error) {
	if f.doc == nil || f.doc.ID != id || f.doc.SessionID != sessionID {
		return nil, store.ErrNotFound
	}
	d := *f.doc
	return &d, nil
}

func (f *fakeProcessorStore) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	f.status = append(f.status, status)
	f.doc.Status = status
	f.doc.ErrorMessage = errorMessage
	return nil
}

func (f *fakeProcessorStore) UpdateDocumentProgress(ctx context.Context, id, stage string, progress int) error {
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeProcessorStore) SetDocumentChunks(ctx context.Context, id string, totalChunks, pages int) error {
	f.chunks = totalChunks
	f.pages = pages
	return nil
}

func (f *fakeProcessorStore) SaveCheckpoint(ctx context.Context, documentID, step string, payload []byte, compression string) error {
	f.checkpoints[checkpointKey{documentID, step}] = checkpointVal{payload, compression}
	return nil
}

func (f *fakeProcessorStore) LoadCheckpoint(ctx context.Context, documentID, step string) ([]byte, string, bool, error) {
	val, ok := f.checkpoints[checkpointKey{documentID, step}]
	if !ok {
		return nil, "", false, nil
	}
	return val.payload, val.compression, true, nil
}

func (f *fakeProcessorStore) DeleteCheckpoints(ctx context.Context, documentID string) error {
	for key := range f.checkpoints {
		if key.doc == documentID {
			delete(f.checkpoints, key)
		}
	}
	return nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakePersister struct {
	segments []services.SegmentInput
	err      error
}

func (f *fakePersister) Persist(ctx context.Context, documentID, sessionID, filename string, segments []services.SegmentInput, vectors [][]float32) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.segments = segments
	return len(segments), nil
}

func testDocument(t *testing.T, content, contentType string) *models.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return &models.Document{
		ID:          "doc-1",
		SessionID:   "sess-1",
		Filename:    "upload.txt",
		FilePath:    path,
		ContentType: contentType,
		Status:      models.StatusPending,
	}
}

func newTestProcessor(t *testing.T, st *fakeProcessorStore, embedder TextEmbedder, persister Persister) *TaskProcessor {
	t.Helper()
	segmenter, err := services.NewSegmenter(100, 20)
	require.NoError(t, err)
	return NewTaskProcessor(st, services.NewExtractor(), segmenter, embedder, persister)
}

func ingestTask(t *testing.T, documentID, sessionID string) *asynq.Task {
	t.Helper()
	task, err := NewIngestTask(documentID, sessionID)
	require.NoError(t, err)
	return task
}

func TestHandleIngestHappyPath(t *testing.T) {
	doc := testDocument(t, strings.Repeat("useful words here ", 30), "text/plain")
	st := newFakeProcessorStore(doc)
	embedder := &fakeEmbedder{}
	persister := &fakePersister{}
	p := newTestProcessor(t, st, embedder, persister)

	err := p.HandleIngest(context.Background(), ingestTask(t, "doc-1", "sess-1"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusReady, st.doc.Status)
	assert.NotEmpty(t, persister.segments)
	assert.Equal(t, len(persister.segments), st.chunks)
	assert.Empty(t, st.checkpoints, "checkpoints are cleared after finalize")
	assert.Equal(t, []string{"extracting", "segmenting", "embedding", "persisting"}, st.stages)
}

func TestHandleIngestResumesFromCheckpoints(t *testing.T) {
	doc := testDocument(t, strings.Repeat("resumable content ", 30), "text/plain")
	st := newFakeProcessorStore(doc)

	// First pass populates the ledger but dies at persist.
	failing := &fakePersister{err: errors.New("row store down")}
	p1 := newTestProcessor(t, st, &fakeEmbedder{}, failing)
	err := p1.HandleIngest(context.Background(), ingestTask(t, "doc-1", "sess-1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "transient persist failure must allow redelivery")
	assert.NotEmpty(t, st.checkpoints)

	// Redelivery: the embedder must not be called again.
	embedder := &fakeEmbedder{err: errors.New("would fail if called")}
	persister := &fakePersister{}
	p := newTestProcessor(t, st, embedder, persister)
	err = p.HandleIngest(context.Background(), ingestTask(t, "doc-1", "sess-1"))
	require.NoError(t, err)

	assert.Equal(t, 0, embedder.calls, "completed steps must be skipped on redelivery")
	assert.Equal(t, models.StatusReady, st.doc.Status)
	assert.NotEmpty(t, persister.segments)
}

func TestHandleIngestUnsupportedTypeIsTerminal(t *testing.T) {
	doc := testDocument(t, "binary blob", "image/png")
	st := newFakeProcessorStore(doc)
	p := newTestProcessor(t, st, &fakeEmbedder{}, &fakePersister{})

	err := p.HandleIngest(context.Background(), ingestTask(t, "doc-1", "sess-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "fatal failures must not be redelivered")
	assert.Equal(t, models.StatusError, st.doc.Status)
	assert.NotEmpty(t, st.doc.ErrorMessage)
}

func TestHandleIngestMissingFileIsTerminal(t *testing.T) {
	doc := testDocument(t, "content", "text/plain")
	require.NoError(t, os.Remove(doc.FilePath))
	st := newFakeProcessorStore(doc)
	p := newTestProcessor(t, st, &fakeEmbedder{}, &fakePersister{})

	err := p.HandleIngest(context.Background(), ingestTask(t, "doc-1", "sess-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, models.StatusError, st.doc.Status)
}

func TestHandleIngestSkipsMissingDocument(t *testing.T) {
	st := newFakeProcessorStore(nil)
	p := newTestProcessor(t, st, &fakeEmbedder{}, &fakePersister{})

	err := p.HandleIngest(context.Background(), ingestTask(t, "doc-gone", "sess-1"))
	assert.NoError(t, err, "a deleted document acks the task")
}

func TestHandleIngestSkipsTerminalStates(t *testing.T) {
	for _, status := range []string{models.StatusReady, models.StatusError} {
		doc := testDocument(t, "content here", "text/plain")
		doc.Status = status
		st := newFakeProcessorStore(doc)
		embedder := &fakeEmbedder{}
		p := newTestProcessor(t, st, embedder, &fakePersister{})

		err := p.HandleIngest(context.Background(), ingestTask(t, "doc-1", "sess-1"))
		require.NoError(t, err)
		assert.Equal(t, 0, embedder.calls)
		assert.Equal(t, status, st.doc.Status, "terminal status %s must not change", status)
	}
}

func TestHandleIngestEmbedderFailureIsRetryable(t *testing.T) {
	doc := testDocument(t, strings.Repeat("embed me ", 40), "text/plain")
	st := newFakeProcessorStore(doc)
	embedder := &fakeEmbedder{err: errors.New("quota exceeded")}
	p := newTestProcessor(t, st, embedder, &fakePersister{})

	err := p.HandleIngest(context.Background(), ingestTask(t, "doc-1", "sess-1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	// Earlier step outputs survive for the redelivery.
	_, _, found, ferr := st.LoadCheckpoint(context.Background(), "doc-1", "extract")
	require.NoError(t, ferr)
	assert.True(t, found)
}
