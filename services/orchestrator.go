package services

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/models"
)

// ModelClient is the language-model capability the orchestrator drives.
type ModelClient interface {
	GenerateJSON(ctx context.Context, system, prompt string) ([]byte, error)
	Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error)
}

// Searcher is the retrieval capability, satisfied by *RetrievalEngine.
type Searcher interface {
	Search(ctx context.Context, sessionID, query string, topK int) ([]SearchResult, error)
}

// DocumentRemover deletes a document and everything derived from it.
type DocumentRemover interface {
	Remove(ctx context.Context, doc *models.Document) error
}

// OrchestratorStore is the conversation-state slice of the row store.
type OrchestratorStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, sessionID string, limit int, roles []string) ([]models.Message, error)
	DeleteMessagesBySession(ctx context.Context, sessionID string) error
	ListDocuments(ctx context.Context, sessionID string) ([]models.Document, error)
}

// TurnEvents carries the caller's streaming callbacks. Both are optional;
// OnDelta may return an error to signal the caller is gone, which stops
// delivery but never the turn itself.
type TurnEvents struct {
	OnTool  func(tool, status, message string)
	OnDelta func(text string) error
}

const answerSystemPrompt = `You are a document assistant. Answer using ONLY the context provided below.
Cite which document a statement comes from when context is available.
If the context contains no relevant information, say explicitly that you could not find anything relevant in the uploaded documents.
Never invent document content.`

const apologyMessage = "I'm sorry, I ran into a problem while working with your documents. Please try again."

// Orchestrator executes one conversation turn: plan, run at most one tool,
// then stream the answer. It holds no per-session state itself; the
// session manager serializes calls per session.
type Orchestrator struct {
	store         OrchestratorStore
	searcher      Searcher
	remover       DocumentRemover
	planner       *Planner
	model         ModelClient
	historyWindow int
	topK          int
}

func NewOrchestrator(store OrchestratorStore, searcher Searcher, remover DocumentRemover, model ModelClient, historyWindow, topK int) *Orchestrator {
	if historyWindow <= 0 {
		historyWindow = 40
	}
	if topK <= 0 {
		topK = 5
	}
	return &Orchestrator{
		store:         store,
		searcher:      searcher,
		remover:       remover,
		planner:       NewPlanner(model),
		model:         model,
		historyWindow: historyWindow,
		topK:          topK,
	}
}

// HandleTurn runs the full turn flow for one user message and returns the
// assistant's final text. The assistant message is persisted even when the
// stream fails partway, so a partially generated answer is never lost.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, text string, ev TurnEvents) (string, error) {
	// History is loaded before the current message is persisted so prompts
	// carry the current text only once, in the "User message" slot.
	history, err := o.store.RecentMessages(ctx, sessionID, o.historyWindow,
		[]string{models.RoleUser, models.RoleAssistant})
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	userMsg := &models.Message{SessionID: sessionID, Role: models.RoleUser, Content: text}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return "", fmt.Errorf("failed to append user message: %w", err)
	}

	documents, err := o.store.ListDocuments(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to list documents: %w", err)
	}

	call := o.planner.Decide(ctx, history, text, documents)

	var (
		contextBlock string
		citations    []models.Citation
	)

	switch call.Tool {
	case ToolSearch:
		o.emitTool(ev, "search", "running", "Searching your documents")
		results, err := o.searcher.Search(ctx, sessionID, call.Query, o.topK)
		if err != nil {
			logger.Error("Search tool failed", "session", sessionID, "error", err)
			o.emitTool(ev, "search", "error", "Search failed")
			return o.apologize(ctx, sessionID, ev)
		}
		o.emitTool(ev, "search", "done", fmt.Sprintf("Found %d passages", len(results)))

		contextBlock = formatSearchContext(results)
		citations = collectCitations(results)
		o.appendToolMessage(ctx, sessionID, "search", contextBlock, bson.M{
			"query": call.Query,
			"count": len(results),
		})

	case ToolList:
		o.emitTool(ev, "list", "done", fmt.Sprintf("You have %d documents", len(documents)))
		contextBlock = formatDocumentList(documents)
		o.appendToolMessage(ctx, sessionID, "list", contextBlock, bson.M{
			"count": len(documents),
		})

	case ToolDelete:
		doc := matchDocument(documents, call.Document)
		if doc == nil {
			contextBlock = fmt.Sprintf("No document named %q exists in this session.", call.Document)
			o.emitTool(ev, "delete", "error", "Document not found")
		} else {
			o.emitTool(ev, "delete", "running", "Deleting "+doc.Filename)
			if err := o.remover.Remove(ctx, doc); err != nil {
				logger.Error("Delete tool failed", "session", sessionID, "document", doc.ID, "error", err)
				o.emitTool(ev, "delete", "error", "Deletion failed")
				return o.apologize(ctx, sessionID, ev)
			}
			contextBlock = fmt.Sprintf("Document %q and its index entries were deleted.", doc.Filename)
			o.emitTool(ev, "delete", "done", "Deleted "+doc.Filename)
		}
		o.appendToolMessage(ctx, sessionID, "delete", contextBlock, bson.M{
			"document": call.Document,
		})

	case ToolNone:
		// Fast path: no tool, straight to the answer.
	}

	prompt := buildAnswerPrompt(history, text, contextBlock)
	answer, streamErr := o.model.Stream(ctx, answerSystemPrompt, prompt, ev.OnDelta)
	if streamErr != nil {
		logger.Warn("Answer stream failed, persisting partial text",
			"session", sessionID, "chars", len(answer), "error", streamErr)
	}
	if answer == "" && streamErr != nil {
		return o.apologize(ctx, sessionID, ev)
	}

	assistantMsg := &models.Message{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   answer,
		Citations: citations,
	}
	if err := o.store.AppendMessage(ctx, assistantMsg); err != nil {
		return answer, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	return answer, streamErr
}

// Reset truncates the session's conversation history. Documents stay.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	return o.store.DeleteMessagesBySession(ctx, sessionID)
}

// apologize reports a tool failure as a normal assistant message so the
// conversation keeps its shape and the session state stays intact.
func (o *Orchestrator) apologize(ctx context.Context, sessionID string, ev TurnEvents) (string, error) {
	if ev.OnDelta != nil {
		_ = ev.OnDelta(apologyMessage)
	}
	msg := &models.Message{SessionID: sessionID, Role: models.RoleAssistant, Content: apologyMessage}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return apologyMessage, err
	}
	return apologyMessage, nil
}

func (o *Orchestrator) appendToolMessage(ctx context.Context, sessionID, tool, content string, payload bson.M) {
	msg := &models.Message{
		SessionID:  sessionID,
		Role:       models.RoleTool,
		Tool:       tool,
		Content:    content,
		ToolResult: payload,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		logger.Error("Failed to append tool message", "session", sessionID, "tool", tool, "error", err)
	}
}

func (o *Orchestrator) emitTool(ev TurnEvents, tool, status, message string) {
	if ev.OnTool != nil {
		ev.OnTool(tool, status, message)
	}
}

func formatSearchContext(results []SearchResult) string {
	if len(results) == 0 {
		return "The search returned no matching passages."
	}

	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "[%d] From %q", i+1, res.Citation.Filename)
		if res.Citation.Page > 0 {
			fmt.Fprintf(&b, " (page %d)", res.Citation.Page)
		}
		fmt.Fprintf(&b, ":\n%s\n\n", res.Text)
	}
	return b.String()
}

func formatDocumentList(documents []models.Document) string {
	if len(documents) == 0 {
		return "No documents have been uploaded in this session."
	}

	var b strings.Builder
	b.WriteString("Uploaded documents:\n")
	for _, doc := range documents {
		fmt.Fprintf(&b, "- %s (status: %s, %d segments)\n", doc.Filename, doc.Status, doc.TotalChunks)
	}
	return b.String()
}

func matchDocument(documents []models.Document, name string) *models.Document {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range documents {
		if strings.ToLower(documents[i].Filename) == name {
			return &documents[i]
		}
	}
	// Fall back to a substring match so "the quarterly report" can hit
	// "quarterly-report.pdf".
	for i := range documents {
		if strings.Contains(strings.ToLower(documents[i].Filename), name) {
			return &documents[i]
		}
	}
	return nil
}

func buildAnswerPrompt(history []models.Message, userText, contextBlock string) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	if contextBlock != "" {
		b.WriteString("Context:\n")
		b.WriteString(contextBlock)
		b.WriteString("\n")
	} else {
		b.WriteString("Context: (no document context for this turn)\n\n")
	}

	fmt.Fprintf(&b, "User message: %s\n", userText)
	return b.String()
}

func collectCitations(results []SearchResult) []models.Citation {
	seen := make(map[models.Citation]bool, len(results))
	citations := make([]models.Citation, 0, len(results))
	for _, res := range results {
		if !seen[res.Citation] {
			seen[res.Citation] = true
			citations = append(citations, res.Citation)
		}
	}
	return citations
}
