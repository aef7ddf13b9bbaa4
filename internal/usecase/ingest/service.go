// Package ingest implements the ingestion pipeline: validate, embed
// (batched), append to the engine, which persists asynchronously and bumps
// the cache generation.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lexguard/matchengine/internal/domain"
	"github.com/lexguard/matchengine/internal/index"
)

// MaxBatchSize is the default cap on items per batch request.
const MaxBatchSize = 500

// Item is one ingest payload from the scraper or an admin caller.
type Item struct {
	Text     string
	Metadata map[string]string
}

// Service is the ingestion pipeline.
type Service struct {
	engine       Engine
	embed        Embedder
	maxBatchSize int
	logger       *zap.Logger
}

// New creates the ingestion service.
func New(engine Engine, embed Embedder, logger *zap.Logger) *Service {
	return &Service{
		engine:       engine,
		embed:        embed,
		maxBatchSize: MaxBatchSize,
		logger:       logger,
	}
}

// WithMaxBatchSize configures the batch size cap.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxBatchSize = size
	}
	return s
}

// AddDocument ingests a single document and returns its assigned ordinal ID.
func (s *Service) AddDocument(ctx context.Context, item Item) (int, error) {
	ids, err := s.AddDocumentsBatch(ctx, []Item{item})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AddDocumentsBatch ingests documents in bulk: all texts are embedded in
// one encoder call and appended in request order, so the Nth assigned ID
// corresponds to the Nth item.
func (s *Service) AddDocumentsBatch(ctx context.Context, items []Item) ([]int, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrInvalidInput)
	}
	if len(items) > s.maxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds %d", domain.ErrInvalidInput, len(items), s.maxBatchSize)
	}

	docs := make([]domain.Document, len(items))
	texts := make([]string, len(items))
	for i, item := range items {
		doc, err := domain.NewDocument(item.Text, item.Metadata)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		docs[i] = doc
		texts[i] = item.Text
	}

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	ids, err := s.engine.Append(ctx, docs, vectors)
	if err != nil {
		return nil, fmt.Errorf("append documents: %w", err)
	}

	s.logger.Info("ingested documents", zap.Int("count", len(ids)))
	return ids, nil
}

// DeleteDocument removes a document; reports whether it existed.
func (s *Service) DeleteDocument(ctx context.Context, id int) (bool, error) {
	ok, err := s.engine.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete document %d: %w", id, err)
	}
	if ok {
		s.logger.Info("deleted document", zap.Int("id", id))
	}
	return ok, nil
}

// UpdateDocument replaces a document's text/metadata. The replacement gets
// a new ordinal ID, which is returned; callers must treat an update as
// identity-changing.
func (s *Service) UpdateDocument(ctx context.Context, id int, item Item) (int, bool, error) {
	doc, err := domain.NewDocument(item.Text, item.Metadata)
	if err != nil {
		return 0, false, err
	}
	vectors, err := s.embedAll(ctx, []string{item.Text})
	if err != nil {
		return 0, false, err
	}
	newID, ok, err := s.engine.Update(ctx, id, doc, vectors[0])
	if err != nil {
		return 0, false, fmt.Errorf("update document %d: %w", id, err)
	}
	if ok {
		s.logger.Info("updated document", zap.Int("old_id", id), zap.Int("new_id", newID))
	}
	return newID, ok, nil
}

// embedAll encodes texts (one encoder call for two or more) and normalizes
// the vectors so the index scores pure cosine similarity.
func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 1 {
		res, err := s.embed.Embed(ctx, texts[0])
		if err != nil {
			return nil, fmt.Errorf("embed document: %w", err)
		}
		return [][]float32{index.Normalize(res.Embedding)}, nil
	}

	res, err := s.embed.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	for i := range res.Embeddings {
		index.Normalize(res.Embeddings[i])
	}
	return res.Embeddings, nil
}
