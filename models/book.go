package models

import "time"

// ContentChunk is a bounded span of a book's cleaned text, stored as one
// indexable unit. Index is unique within one ingestion run of one book.
type ContentChunk struct {
	Text     string         `json:"text"`
	Index    int            `json:"index"`
	Metadata map[string]any `json:"metadata"`
}

// ExtractedText is the raw output of PDF text extraction after cleaning.
type ExtractedText struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

// ProcessedDocument is the result of extracting and chunking one PDF.
type ProcessedDocument struct {
	Chunks     []ContentChunk `json:"chunks"`
	Pages      int            `json:"pages"`
	TextLength int            `json:"text_length"`
	Metadata   map[string]any `json:"metadata"`
}

// Point is one vector with its payload as stored in a collection.
// The point id equals the chunk index.
type Point struct {
	ID      int            `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult is one similarity match returned by a vector search.
// Score is cosine similarity, higher means more relevant.
type SearchResult struct {
	ID      int            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// CollectionInfo mirrors the collection status exposed by the vector store.
type CollectionInfo struct {
	Status       string `json:"status"`
	PointsCount  int64  `json:"points_count"`
	VectorsCount int64  `json:"vectors_count"`
}

// IngestResult reports the outcome of one full ingestion run.
type IngestResult struct {
	Success        bool           `json:"success"`
	CollectionName string         `json:"collection_name,omitempty"`
	ChunksCount    int            `json:"chunks_count,omitempty"`
	Pages          int            `json:"pages,omitempty"`
	TextLength     int            `json:"text_length,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Error          string         `json:"error,omitempty"`

	// Err carries the typed failure cause for callers that need to
	// distinguish fatal conditions from retryable ones. Not serialized.
	Err error `json:"-"`
}

// QueryResult is the answer object returned for one book question.
type QueryResult struct {
	Success     bool           `json:"success"`
	Answer      string         `json:"answer"`
	Model       string         `json:"model,omitempty"`
	Tokens      int            `json:"tokens,omitempty"`
	ContextUsed int            `json:"context_used,omitempty"`
	Context     []SearchResult `json:"context,omitempty"`
	BookID      int64          `json:"book_id,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// BookStats summarizes the index state of one book's collection.
type BookStats struct {
	Exists       bool   `json:"exists"`
	Collection   string `json:"collection,omitempty"`
	VectorsCount int64  `json:"vectors_count,omitempty"`
	PointsCount  int64  `json:"points_count,omitempty"`
	Status       string `json:"status,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ConfigurationStatus reports reachability of the external services.
type ConfigurationStatus struct {
	VectorStore bool `json:"vector_store"`
	Generator   bool `json:"generator"`
}

// BookIndex is the indexing-status record persisted per book. HasVector is
// only set after the vector store acknowledged the full upsert.
type BookIndex struct {
	BookID         int64      `bson:"_id" json:"book_id"`
	PDFPath        string     `bson:"pdf_path" json:"pdf_path"`
	HasVector      bool       `bson:"has_vector" json:"has_vector"`
	CollectionName string     `bson:"collection_name,omitempty" json:"collection_name,omitempty"`
	TotalPages     int        `bson:"total_pages,omitempty" json:"total_pages,omitempty"`
	ChunksCount    int        `bson:"chunks_count,omitempty" json:"chunks_count,omitempty"`
	ProcessedAt    *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
}
