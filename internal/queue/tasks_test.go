package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"elibrary-rag/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	mu          sync.Mutex
	currentPath string
	pathErr     error

	// matchByPath mirrors the real repository's conditional write-back;
	// when false the fixed markMatched value is returned instead.
	matchByPath bool
	markMatched bool

	indexedCalls int
	failedCalls  int
}

func (f *fakeRecords) CurrentPath(ctx context.Context, bookID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentPath, f.pathErr
}

func (f *fakeRecords) setPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentPath = path
}

func (f *fakeRecords) MarkIndexed(ctx context.Context, bookID int64, pdfPath, collectionName string, pages, chunks int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedCalls++
	if f.matchByPath {
		return pdfPath == f.currentPath, nil
	}
	return f.markMatched, nil
}

func (f *fakeRecords) MarkFailed(ctx context.Context, bookID int64, pdfPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedCalls++
	return nil
}

type fakeIngestor struct {
	mu     sync.Mutex
	calls  int
	result *models.IngestResult
}

func (f *fakeIngestor) ProcessAndStoreBook(ctx context.Context, pdfPath string, bookID int64, metadata map[string]any) *models.IngestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

func (f *fakeIngestor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingIngestor parks inside ProcessAndStoreBook until told to proceed,
// simulating an ingest that is mid-flight while other tasks arrive.
type blockingIngestor struct {
	started chan struct{}
	proceed chan struct{}
	result  *models.IngestResult
}

func (b *blockingIngestor) ProcessAndStoreBook(ctx context.Context, pdfPath string, bookID int64, metadata map[string]any) *models.IngestResult {
	close(b.started)
	<-b.proceed
	return b.result
}

// memLocker is an in-process Locker with the same try-lock contract as the
// redis implementation.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}}
}

func (m *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, false, nil
	}
	m.held[key] = true
	release := func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}
	return release, true, nil
}

func (m *memLocker) heldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

func ingestTask(t *testing.T, bookID int64, path string) *asynq.Task {
	t.Helper()
	task, err := NewIngestTask(bookID, path, map[string]any{"title": "A Book"})
	require.NoError(t, err)
	return task
}

func TestNewIngestTask(t *testing.T) {
	task := ingestTask(t, 42, "/storage/books/42/a.pdf")
	require.Equal(t, TaskIngestBook, task.Type())

	var payload IngestPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(42), payload.BookID)
	require.Equal(t, "/storage/books/42/a.pdf", payload.PDFPath)
	require.Equal(t, "A Book", payload.Metadata["title"])
}

func TestHandleIngestBook_Success(t *testing.T) {
	records := &fakeRecords{currentPath: "/storage/books/42/a.pdf", markMatched: true}
	ingestor := &fakeIngestor{result: &models.IngestResult{
		Success:        true,
		CollectionName: "book_42",
		ChunksCount:    7,
		Pages:          120,
	}}
	locks := newMemLocker()
	p := NewTaskProcessor(records, ingestor, locks)

	err := p.HandleIngestBook(context.Background(), ingestTask(t, 42, "/storage/books/42/a.pdf"))
	require.NoError(t, err)
	require.Equal(t, 1, ingestor.callCount())
	require.Equal(t, 1, records.indexedCalls)
	require.Zero(t, records.failedCalls)
	require.Zero(t, locks.heldCount(), "the ingest lock must be released")
}

func TestHandleIngestBook_Superseded(t *testing.T) {
	records := &fakeRecords{currentPath: "/storage/books/42/newer.pdf"}
	ingestor := &fakeIngestor{}
	p := NewTaskProcessor(records, ingestor, newMemLocker())

	err := p.HandleIngestBook(context.Background(), ingestTask(t, 42, "/storage/books/42/older.pdf"))
	require.NoError(t, err, "a superseded task completes without retry")
	require.Zero(t, ingestor.callCount(), "superseded tasks must not process the PDF")
	require.Zero(t, records.indexedCalls)
}

func TestHandleIngestBook_RetryableFailure(t *testing.T) {
	records := &fakeRecords{currentPath: "/storage/books/42/a.pdf"}
	ingestor := &fakeIngestor{result: &models.IngestResult{
		Success: false,
		Error:   models.ErrIndexUnavailable.Error(),
		Err:     models.ErrIndexUnavailable,
	}}
	p := NewTaskProcessor(records, ingestor, newMemLocker())

	err := p.HandleIngestBook(context.Background(), ingestTask(t, 42, "/storage/books/42/a.pdf"))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry), "index outages should be retried")
	require.Equal(t, 1, records.failedCalls)
}

func TestHandleIngestBook_ExtractionFailureNotRetried(t *testing.T) {
	extractErr := fmt.Errorf("%w: corrupt file", models.ErrExtraction)
	records := &fakeRecords{currentPath: "/storage/books/42/a.pdf"}
	ingestor := &fakeIngestor{result: &models.IngestResult{
		Success: false,
		Error:   extractErr.Error(),
		Err:     extractErr,
	}}
	p := NewTaskProcessor(records, ingestor, newMemLocker())

	err := p.HandleIngestBook(context.Background(), ingestTask(t, 42, "/storage/books/42/a.pdf"))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry), "a corrupt PDF cannot be fixed by retrying")
	require.Equal(t, 1, records.failedCalls)
}

func TestHandleIngestBook_ResultDiscardedAfterReupload(t *testing.T) {
	// The book was re-uploaded while this task was processing: the
	// conditional write-back misses and the stale result is dropped.
	records := &fakeRecords{currentPath: "/storage/books/42/a.pdf", markMatched: false}
	ingestor := &fakeIngestor{result: &models.IngestResult{Success: true, CollectionName: "book_42"}}
	p := NewTaskProcessor(records, ingestor, newMemLocker())

	err := p.HandleIngestBook(context.Background(), ingestTask(t, 42, "/storage/books/42/a.pdf"))
	require.NoError(t, err)
	require.Equal(t, 1, records.indexedCalls)
}

func TestHandleIngestBook_SerializesPerBook(t *testing.T) {
	oldInterval := ingestLockRetryInterval
	ingestLockRetryInterval = 5 * time.Millisecond
	defer func() { ingestLockRetryInterval = oldInterval }()

	oldPath := "/storage/books/42/old.pdf"
	newPath := "/storage/books/42/new.pdf"

	locks := newMemLocker()
	records := &fakeRecords{currentPath: oldPath, matchByPath: true}

	first := &blockingIngestor{
		started: make(chan struct{}),
		proceed: make(chan struct{}),
		result:  &models.IngestResult{Success: true, CollectionName: "book_42"},
	}
	second := &fakeIngestor{result: &models.IngestResult{Success: true, CollectionName: "book_42"}}

	firstDone := make(chan error, 1)
	go func() {
		p := NewTaskProcessor(records, first, locks)
		firstDone <- p.HandleIngestBook(context.Background(), ingestTask(t, 42, oldPath))
	}()
	<-first.started

	// A new PDF arrives while the first ingest is mid-flight.
	records.setPath(newPath)

	secondDone := make(chan error, 1)
	go func() {
		p := NewTaskProcessor(records, second, locks)
		secondDone <- p.HandleIngestBook(context.Background(), ingestTask(t, 42, newPath))
	}()

	// The superseding task must not touch the collection while the older
	// run holds the book's lock.
	select {
	case err := <-secondDone:
		t.Fatalf("superseding task finished while the older run was mid-flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	require.Zero(t, second.callCount())

	close(first.proceed)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	require.Equal(t, 1, second.callCount())
	require.Zero(t, locks.heldCount())
	// Only the new generation's write-back matched; the old run's result
	// was discarded.
	require.Equal(t, 2, records.indexedCalls)
}

func TestHandleIngestBook_BadPayload(t *testing.T) {
	p := NewTaskProcessor(&fakeRecords{}, &fakeIngestor{}, newMemLocker())
	task := asynq.NewTask(TaskIngestBook, []byte("not json"))

	err := p.HandleIngestBook(context.Background(), task)
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
