package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Conversation message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Citation points a piece of answer text back at the segment it came from.
type Citation struct {
	Filename string `bson:"filename" json:"filename"`
	Page     int    `bson:"page,omitempty" json:"page,omitempty"`
	Ordinal  int    `bson:"ordinal" json:"ordinal"`
}

// Message is one entry in a session's append-only conversation history.
// Tool results are stored as a structured payload alongside the rendered
// content so the planner context stays compact.
type Message struct {
	ID         int64      `bson:"_id" json:"id"`
	SessionID  string     `bson:"session_id" json:"-"`
	Role       string     `bson:"role" json:"role"`
	Content    string     `bson:"content" json:"content"`
	Citations  []Citation `bson:"citations,omitempty" json:"citations,omitempty"`
	Tool       string     `bson:"tool,omitempty" json:"tool,omitempty"`
	ToolResult bson.M     `bson:"tool_result,omitempty" json:"toolResult,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
}
