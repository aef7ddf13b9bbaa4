// Package domain holds the core types shared between layers.
package domain

import (
	"fmt"
	"time"
)

// MaxTextSize is the maximum document text size in bytes.
const MaxTextSize = 163840 // 160KB

// Document is a registry entry. The ID is an ordinal assigned by the store;
// it equals the document's row position in the similarity index until the
// first deletion, after which the store keeps an explicit position mapping.
type Document struct {
	ID        int               `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewDocument validates input and creates a Document without an assigned ID.
func NewDocument(text string, metadata map[string]string) (Document, error) {
	if text == "" {
		return Document{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if len(text) > MaxTextSize {
		return Document{}, fmt.Errorf("%w: text too large (max %d bytes)", ErrInvalidInput, MaxTextSize)
	}
	return Document{
		ID:        -1,
		Text:      text,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
