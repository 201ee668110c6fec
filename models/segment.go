package models

import "time"

// Segment is one overlapping slice of a document's extracted text. Its
// sequential id doubles as the vector index point id, which is the only
// join key between the two stores. Segments are written in bulk during
// ingestion and never mutated.
type Segment struct {
	ID         int64     `bson:"_id" json:"id"`
	SessionID  string    `bson:"session_id" json:"-"`
	DocumentID string    `bson:"document_id" json:"documentId"`
	Ordinal    int       `bson:"ordinal" json:"ordinal"`
	Text       string    `bson:"text" json:"text"`
	Page       int       `bson:"page,omitempty" json:"page,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"createdAt"`
}
