package domain

import "errors"

var (
	// ErrInvalidInput signals a rejected request payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrIndexNotTrained signals an insert into an untrained IVF index.
	ErrIndexNotTrained = errors.New("index not trained")
	// ErrEmbeddingProviderError signals an encoder failure or timeout.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrPersistence signals a failed disk write. In-memory state stays
	// authoritative; the write is retried on the next mutation.
	ErrPersistence = errors.New("persistence failure")
)
