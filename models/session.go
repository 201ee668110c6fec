package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is the unit of data isolation. Every document, segment, vector
// entry and message belongs to exactly one session, and last_active_at
// gates the expiry cascade.
type Session struct {
	ID            string    `bson:"_id" json:"id"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	LastActiveAt  time.Time `bson:"last_active_at" json:"lastActiveAt"`
	DocumentCount int       `bson:"document_count" json:"documentCount"`
	MessageCount  int       `bson:"message_count" json:"messageCount"`
}

// NewSessionID returns a fresh time-prefixed opaque session id.
func NewSessionID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}
