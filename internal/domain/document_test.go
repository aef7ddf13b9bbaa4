package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewDocument(t *testing.T) {
	doc, err := NewDocument("запрещённый контент", map[string]string{"category": "weapons"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != -1 {
		t.Errorf("ID = %d, want -1 before store assignment", doc.ID)
	}
	if doc.Text != "запрещённый контент" {
		t.Errorf("Text = %q", doc.Text)
	}
	if doc.Metadata["category"] != "weapons" {
		t.Errorf("Metadata = %v", doc.Metadata)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestNewDocument_EmptyText(t *testing.T) {
	_, err := NewDocument("", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNewDocument_TextTooLarge(t *testing.T) {
	_, err := NewDocument(strings.Repeat("a", MaxTextSize+1), nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNewDocument_ClonesMetadata(t *testing.T) {
	md := map[string]string{"k": "v"}
	doc, err := NewDocument("text", md)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	md["k"] = "mutated"
	if doc.Metadata["k"] != "v" {
		t.Errorf("Metadata[k] = %q, want %q", doc.Metadata["k"], "v")
	}
}

type singleEmbedder struct {
	calls int
	err   error
}

func (e *singleEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	e.calls++
	if e.err != nil {
		return EmbeddingResult{}, e.err
	}
	return EmbeddingResult{Embedding: []float32{float32(len(text))}, TotalTokens: 2}, nil
}

func TestBatchFallback(t *testing.T) {
	e := &singleEmbedder{}
	res, err := BatchFallback(context.Background(), e, []string{"ab", "cdef"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.calls != 2 {
		t.Errorf("calls = %d, want 2", e.calls)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("len(Embeddings) = %d, want 2", len(res.Embeddings))
	}
	if res.Embeddings[0][0] != 2 || res.Embeddings[1][0] != 4 {
		t.Errorf("unexpected embeddings: %v", res.Embeddings)
	}
	if res.TotalTokens != 4 {
		t.Errorf("TotalTokens = %d, want 4", res.TotalTokens)
	}
}

func TestBatchFallback_Error(t *testing.T) {
	e := &singleEmbedder{err: fmt.Errorf("encoder down")}
	_, err := BatchFallback(context.Background(), e, []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
}
