package models

import "time"

// Document processing status constants. Transitions are monotonic:
// pending -> processing -> ready, or any of those -> error. A document in
// error stays there until it is deleted; there is no repair path back to
// processing.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Document is an uploaded file owned by a single session. Only the
// ingestion pipeline mutates it after creation.
type Document struct {
	ID           string     `bson:"_id" json:"id"`
	SessionID    string     `bson:"session_id" json:"-"`
	Filename     string     `bson:"filename" json:"filename"`
	FilePath     string     `bson:"file_path" json:"-"` // blob locator on disk
	ContentType  string     `bson:"content_type" json:"contentType"`
	Size         int64      `bson:"size" json:"size"`
	Status       string     `bson:"status" json:"status"`
	Stage        string     `bson:"stage,omitempty" json:"stage,omitempty"`
	Progress     int        `bson:"progress" json:"progress"`
	TotalChunks  int        `bson:"total_chunks" json:"totalChunks"`
	Pages        int        `bson:"pages,omitempty" json:"pages,omitempty"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	UploadedAt   time.Time  `bson:"uploaded_at" json:"uploadedAt"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updatedAt"`
	ProcessedAt  *time.Time `bson:"processed_at,omitempty" json:"processedAt,omitempty"`
}
