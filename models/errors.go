package models

import "errors"

var (
	// ErrExtraction means the PDF could not be parsed. Fatal to an
	// ingestion run; re-uploading a readable file is the only recovery.
	ErrExtraction = errors.New("failed to extract PDF text")

	// ErrEmbedding means an embedding provider failed for a chunk.
	ErrEmbedding = errors.New("embedding generation failed")

	// ErrIndexUnavailable means the vector store rejected a write or was
	// unreachable. Fatal to ingestion, non-fatal to queries.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationNotConfigured means no API credential is set for the
	// chat-completion endpoint.
	ErrGenerationNotConfigured = errors.New("generation API key not configured")

	// ErrGenerationRequest wraps network or API failures of the
	// chat-completion endpoint.
	ErrGenerationRequest = errors.New("generation request failed")
)
