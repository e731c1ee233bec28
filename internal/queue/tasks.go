package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"elibrary-rag/internal/logger"
	"elibrary-rag/models"

	"github.com/hibiken/asynq"
)

const (
	TaskIngestBook = "book:ingest"

	QueueIngest = "ingest"

	// ingestLockTTL outlives the task timeout so a crashed worker cannot
	// strand a book behind a stale lock.
	ingestLockTTL = 15 * time.Minute
)

// ingestLockRetryInterval is how often a waiting worker re-attempts the
// per-book ingest lock.
var ingestLockRetryInterval = 2 * time.Second

// IngestPayload carries everything a worker needs to index one uploaded
// PDF. The path doubles as a generation marker: when the book record's
// current path no longer matches, this task has been superseded by a newer
// upload and its result is discarded.
type IngestPayload struct {
	BookID   int64          `json:"book_id"`
	PDFPath  string         `json:"pdf_path"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewIngestTask builds the background task for indexing a book PDF.
func NewIngestTask(bookID int64, pdfPath string, metadata map[string]any) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		BookID:   bookID,
		PDFPath:  pdfPath,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestBook,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueIngest),
	), nil
}

// BookRecords is the slice of the persistence layer the worker needs: the
// current PDF path and the conditional status write-back.
type BookRecords interface {
	CurrentPath(ctx context.Context, bookID int64) (string, error)
	MarkIndexed(ctx context.Context, bookID int64, pdfPath, collectionName string, pages, chunks int) (bool, error)
	MarkFailed(ctx context.Context, bookID int64, pdfPath string) error
}

// Ingestor runs the ingest workflow for one book.
type Ingestor interface {
	ProcessAndStoreBook(ctx context.Context, pdfPath string, bookID int64, metadata map[string]any) *models.IngestResult
}

// TaskProcessor handles queued ingestion tasks.
type TaskProcessor struct {
	books    BookRecords
	ingestor Ingestor
	locks    Locker
}

func NewTaskProcessor(books BookRecords, ingestor Ingestor, locks Locker) *TaskProcessor {
	return &TaskProcessor{
		books:    books,
		ingestor: ingestor,
		locks:    locks,
	}
}

// HandleIngestBook indexes one uploaded PDF. Ingestion is serialized per
// book: a task waits for the book's lock before touching the collection, so
// a superseding upload can never interleave its delete/recreate with an
// older run's upsert. A task whose PDF path is no longer current is skipped;
// an unparseable PDF is not retried; transient index failures are retried by
// the queue.
func (p *TaskProcessor) HandleIngestBook(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Processing book ingest task", "book_id", payload.BookID, "path", payload.PDFPath)

	release, err := p.lockBook(ctx, payload.BookID)
	if err != nil {
		return err
	}
	defer release()

	current, err := p.books.CurrentPath(ctx, payload.BookID)
	if err != nil {
		return err
	}
	if current != payload.PDFPath {
		logger.Warn("Skipping superseded ingest task",
			"book_id", payload.BookID, "task_path", payload.PDFPath, "current_path", current)
		return nil
	}

	result := p.ingestor.ProcessAndStoreBook(ctx, payload.PDFPath, payload.BookID, payload.Metadata)
	if !result.Success {
		if markErr := p.books.MarkFailed(ctx, payload.BookID, payload.PDFPath); markErr != nil {
			logger.Error("Failed to record ingest failure", "book_id", payload.BookID, "error", markErr)
		}
		if errors.Is(result.Err, models.ErrExtraction) {
			// Retrying cannot fix a corrupt or unreadable PDF.
			return fmt.Errorf("ingest failed for book %d: %s: %w", payload.BookID, result.Error, asynq.SkipRetry)
		}
		return fmt.Errorf("ingest failed for book %d: %s", payload.BookID, result.Error)
	}

	matched, err := p.books.MarkIndexed(ctx, payload.BookID, payload.PDFPath, result.CollectionName, result.Pages, result.ChunksCount)
	if err != nil {
		return err
	}
	if !matched {
		logger.Warn("Ingest result discarded, book was re-uploaded during processing", "book_id", payload.BookID)
		return nil
	}

	logger.Info("Book indexed",
		"book_id", payload.BookID,
		"collection", result.CollectionName,
		"chunks", result.ChunksCount,
		"pages", result.Pages)
	return nil
}

// lockBook blocks until the per-book ingest lock is acquired or the task
// context ends.
func (p *TaskProcessor) lockBook(ctx context.Context, bookID int64) (func(), error) {
	key := fmt.Sprintf("lock:ingest:book:%d", bookID)
	for {
		release, acquired, err := p.locks.Acquire(ctx, key, ingestLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire ingest lock for book %d: %v", bookID, err)
		}
		if acquired {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ingestLockRetryInterval):
		}
	}
}
