package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acme-studios/cf-rag-agent/internal/logger"
	"github.com/acme-studios/cf-rag-agent/models"
)

// ToolName tags the capability the planner picked for a turn.
type ToolName string

const (
	ToolSearch ToolName = "search"
	ToolList   ToolName = "list"
	ToolDelete ToolName = "delete"
	ToolNone   ToolName = "none"
)

// ToolCall is the planner's decision: at most one tool per turn, with its
// arguments. Tags outside the known set are rejected before dispatch.
type ToolCall struct {
	Tool     ToolName `json:"tool"`
	Query    string   `json:"query,omitempty"`
	Document string   `json:"document,omitempty"`
}

const plannerSystemPrompt = `You are a routing planner for a document assistant.
Given the conversation and the user's latest message, pick exactly one action:
- "search": the user asks something answerable from their uploaded documents. Set "query" to a standalone search query.
- "list": the user asks what documents they have.
- "delete": the user asks to remove a document. Set "document" to its filename.
- "none": a greeting or anything needing no document access.
Respond with JSON only: {"tool": "...", "query": "...", "document": "..."}`

// PlanModel is the structured-output capability the planner calls.
type PlanModel interface {
	GenerateJSON(ctx context.Context, system, prompt string) ([]byte, error)
}

// Planner maps a user turn to at most one tool invocation.
type Planner struct {
	model PlanModel
}

func NewPlanner(model PlanModel) *Planner {
	return &Planner{model: model}
}

// Decide returns the planner's single best choice. Any failure to plan
// degrades to ToolNone so the conversation keeps flowing as a plain reply.
func (p *Planner) Decide(ctx context.Context, history []models.Message, userText string, documents []models.Document) ToolCall {
	prompt := buildPlannerPrompt(history, userText, documents)

	raw, err := p.model.GenerateJSON(ctx, plannerSystemPrompt, prompt)
	if err != nil {
		logger.Warn("Planner call failed, replying without tools", "error", err)
		return ToolCall{Tool: ToolNone}
	}

	call, err := decodeToolCall(raw)
	if err != nil {
		logger.Warn("Planner returned invalid decision, replying without tools", "error", err)
		return ToolCall{Tool: ToolNone}
	}
	return call
}

func buildPlannerPrompt(history []models.Message, userText string, documents []models.Document) string {
	var b strings.Builder

	b.WriteString("Available documents:\n")
	if len(documents) == 0 {
		b.WriteString("(none uploaded)\n")
	}
	for _, doc := range documents {
		fmt.Fprintf(&b, "- %s (status: %s, %d segments)\n", doc.Filename, doc.Status, doc.TotalChunks)
	}

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}

	fmt.Fprintf(&b, "\nUser message: %s\n", userText)
	return b.String()
}

func decodeToolCall(raw []byte) (ToolCall, error) {
	// Some models wrap JSON mode output in a code fence anyway.
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var call ToolCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &call); err != nil {
		return ToolCall{}, fmt.Errorf("failed to decode planner output: %w", err)
	}

	switch call.Tool {
	case ToolSearch, ToolList, ToolDelete, ToolNone:
	case "":
		call.Tool = ToolNone
	default:
		return ToolCall{}, fmt.Errorf("unknown tool %q", call.Tool)
	}

	if call.Tool == ToolSearch && strings.TrimSpace(call.Query) == "" {
		return ToolCall{}, fmt.Errorf("search decision without a query")
	}
	if call.Tool == ToolDelete && strings.TrimSpace(call.Document) == "" {
		return ToolCall{}, fmt.Errorf("delete decision without a document")
	}

	return call, nil
}
