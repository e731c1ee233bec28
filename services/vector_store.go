package services

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"elibrary-rag/internal/logger"
	"elibrary-rag/internal/telemetry"
	"elibrary-rag/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// User-facing sentinel answers for query short-circuits.
const (
	AnswerNotIndexed       = "This book has not been indexed yet. Please upload a PDF first."
	AnswerNoMatches        = "Sorry, no relevant information was found to answer your question."
	AnswerProcessingFailed = "Sorry, something went wrong while processing your question."
)

// Extractor turns a PDF file into cleaned, chunked text.
type Extractor interface {
	ProcessPDF(ctx context.Context, filePath string, metadata map[string]any) (*models.ProcessedDocument, error)
}

// Embedder converts free text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VectorIndex manages collection lifecycle and point storage in the
// external vector database.
type VectorIndex interface {
	CollectionExists(ctx context.Context, name string) bool
	CreateCollection(ctx context.Context, name string, vectorSize int) bool
	Upsert(ctx context.Context, name string, points []models.Point) bool
	Search(ctx context.Context, name string, queryVector []float32, limit int, filter map[string]any) []models.SearchResult
	DeleteCollection(ctx context.Context, name string) bool
	CollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error)
	Healthy(ctx context.Context) bool
}

// Generator produces a grounded answer from a question and retrieved
// passages.
type Generator interface {
	GenerateWithContext(ctx context.Context, question string, searchResults []models.SearchResult) *models.QueryResult
	IsConfigured() bool
}

// VectorStoreService composes extraction, chunking, embedding, vector
// storage and generation into the ingest and query workflows.
type VectorStoreService struct {
	processor Extractor
	embedder  Embedder
	index     VectorIndex
	generator Generator
	metrics   *telemetry.Metrics
}

func NewVectorStoreService(processor Extractor, embedder Embedder, index VectorIndex, generator Generator, metrics *telemetry.Metrics) *VectorStoreService {
	return &VectorStoreService{
		processor: processor,
		embedder:  embedder,
		index:     index,
		generator: generator,
		metrics:   metrics,
	}
}

// CollectionName derives the collection name for a book id.
func CollectionName(bookID int64) string {
	return fmt.Sprintf("book_%d", bookID)
}

// ProcessAndStoreBook runs the full ingest workflow for one book: extract,
// chunk, embed, and upsert into the book's collection. Any existing
// collection is dropped first so a re-ingest never leaves stale points
// behind. On failure nothing is written back; the caller must not mark the
// book as indexed.
func (s *VectorStoreService) ProcessAndStoreBook(ctx context.Context, pdfPath string, bookID int64, metadata map[string]any) *models.IngestResult {
	start := time.Now()
	ctx, span := otel.Tracer("elibrary-rag").Start(ctx, "vectorstore.ingest")
	defer span.End()
	span.SetAttributes(attribute.Int64("book.id", bookID))

	collectionName := CollectionName(bookID)

	logger.Info("Processing PDF for book", "book_id", bookID, "path", pdfPath)

	merged := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["book_id"] = bookID

	processed, err := s.processor.ProcessPDF(ctx, pdfPath, merged)
	if err != nil {
		logger.Error("Vector store processing failed", "book_id", bookID, "error", err)
		s.metrics.RecordIngest(ctx, time.Since(start).Seconds(), false)
		return &models.IngestResult{Success: false, Error: err.Error(), Err: err}
	}

	// Drop any previous generation before recreating the collection, so
	// point ids from a longer earlier ingest cannot survive.
	if s.index.CollectionExists(ctx, collectionName) {
		logger.Info("Replacing existing collection", "collection", collectionName)
		s.index.DeleteCollection(ctx, collectionName)
	}
	if !s.index.CreateCollection(ctx, collectionName, s.embedder.Dimension()) {
		s.metrics.RecordIngest(ctx, time.Since(start).Seconds(), false)
		return &models.IngestResult{
			Success: false,
			Error:   models.ErrIndexUnavailable.Error(),
			Err:     models.ErrIndexUnavailable,
		}
	}

	points, err := s.embedChunks(ctx, bookID, processed.Chunks)
	if err != nil {
		logger.Error("Embedding failed", "book_id", bookID, "error", err)
		s.metrics.RecordIngest(ctx, time.Since(start).Seconds(), false)
		return &models.IngestResult{Success: false, Error: err.Error(), Err: err}
	}

	logger.Info("Inserting vectors for book", "book_id", bookID, "count", len(points))
	if !s.index.Upsert(ctx, collectionName, points) {
		s.metrics.RecordIngest(ctx, time.Since(start).Seconds(), false)
		return &models.IngestResult{
			Success: false,
			Error:   models.ErrIndexUnavailable.Error(),
			Err:     models.ErrIndexUnavailable,
		}
	}

	s.metrics.RecordIngest(ctx, time.Since(start).Seconds(), true)
	return &models.IngestResult{
		Success:        true,
		CollectionName: collectionName,
		ChunksCount:    len(points),
		Pages:          processed.Pages,
		TextLength:     processed.TextLength,
		Metadata:       processed.Metadata,
	}
}

// embedChunks computes embeddings in parallel (embedding is CPU-bound and
// independent per chunk) and assembles points in chunk order. The caller
// issues the upsert as a single batch afterwards.
func (s *VectorStoreService) embedChunks(ctx context.Context, bookID int64, chunks []models.ContentChunk) ([]models.Point, error) {
	points := make([]models.Point, len(chunks))
	errs := make([]error, len(chunks))

	workers := runtime.NumCPU()
	if workers > len(chunks) {
		workers = len(chunks)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				chunk := chunks[i]
				vector, err := s.embedder.Embed(ctx, chunk.Text)
				if err != nil {
					errs[i] = fmt.Errorf("%w: chunk %d: %v", models.ErrEmbedding, chunk.Index, err)
					continue
				}
				points[i] = models.Point{
					ID:     chunk.Index,
					Vector: vector,
					Payload: map[string]any{
						"text":        chunk.Text,
						"book_id":     bookID,
						"chunk_index": chunk.Index,
						"metadata":    chunk.Metadata,
					},
				}
			}
		}()
	}
	for i := range chunks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return points, nil
}

// QueryBook answers a question about one book using retrieval-augmented
// generation. Failure paths return structured results with a user-facing
// fallback answer and never raise.
func (s *VectorStoreService) QueryBook(ctx context.Context, bookID int64, question string, topK int) *models.QueryResult {
	start := time.Now()
	ctx, span := otel.Tracer("elibrary-rag").Start(ctx, "vectorstore.query")
	defer span.End()
	span.SetAttributes(attribute.Int64("book.id", bookID))

	if topK <= 0 {
		topK = 5
	}
	collectionName := CollectionName(bookID)

	// No collection means nothing was indexed; short-circuit without
	// touching the embedding, search, or generation services.
	if !s.index.CollectionExists(ctx, collectionName) {
		s.metrics.RecordQuery(ctx, time.Since(start).Seconds(), false, 0)
		return &models.QueryResult{
			Success: false,
			Error:   "book has not been processed yet",
			Answer:  AnswerNotIndexed,
			BookID:  bookID,
		}
	}

	queryVector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		// An embedding failure is an infrastructure problem, not an
		// absence of relevant content.
		logger.Error("Query embedding failed", "book_id", bookID, "error", err)
		s.metrics.RecordQuery(ctx, time.Since(start).Seconds(), false, 0)
		return &models.QueryResult{
			Success: false,
			Error:   err.Error(),
			Answer:  AnswerProcessingFailed,
			BookID:  bookID,
		}
	}

	logger.Info("Searching vectors for book", "book_id", bookID, "top_k", topK)
	searchResults := s.index.Search(ctx, collectionName, queryVector, topK, nil)
	if len(searchResults) == 0 {
		logger.Warn("No search results found for book", "book_id", bookID)
		s.metrics.RecordQuery(ctx, time.Since(start).Seconds(), false, 0)
		return &models.QueryResult{
			Success: false,
			Answer:  AnswerNoMatches,
			Context: []models.SearchResult{},
			BookID:  bookID,
		}
	}

	logger.Info("Generating AI response for book", "book_id", bookID, "context_chunks", len(searchResults))
	response := s.generator.GenerateWithContext(ctx, question, searchResults)
	response.Context = searchResults
	response.BookID = bookID

	s.metrics.RecordQuery(ctx, time.Since(start).Seconds(), response.Success, response.Tokens)
	return response
}

// GetBookStats reports the index state of one book's collection.
func (s *VectorStoreService) GetBookStats(ctx context.Context, bookID int64) *models.BookStats {
	collectionName := CollectionName(bookID)

	if !s.index.CollectionExists(ctx, collectionName) {
		return &models.BookStats{
			Exists:  false,
			Message: "Book not indexed",
		}
	}

	info, err := s.index.CollectionInfo(ctx, collectionName)
	if err != nil {
		return &models.BookStats{Exists: false, Error: err.Error()}
	}

	return &models.BookStats{
		Exists:       true,
		Collection:   collectionName,
		VectorsCount: info.VectorsCount,
		PointsCount:  info.PointsCount,
		Status:       info.Status,
	}
}

// DeleteBookVectors removes a book's collection. Deleting an absent
// collection is a no-op success.
func (s *VectorStoreService) DeleteBookVectors(ctx context.Context, bookID int64) bool {
	collectionName := CollectionName(bookID)

	if s.index.CollectionExists(ctx, collectionName) {
		logger.Info("Deleting collection for book", "book_id", bookID)
		return s.index.DeleteCollection(ctx, collectionName)
	}
	return true
}

// CheckConfiguration probes the external collaborators.
func (s *VectorStoreService) CheckConfiguration(ctx context.Context) *models.ConfigurationStatus {
	return &models.ConfigurationStatus{
		VectorStore: s.index.Healthy(ctx),
		Generator:   s.generator.IsConfigured(),
	}
}
