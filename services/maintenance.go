package services

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"elibrary-rag/internal/config"
	"elibrary-rag/internal/logger"

	"github.com/go-co-op/gocron"
)

// MaintenanceService runs periodic background jobs: a vector database health
// probe and cleanup of superseded upload files.
type MaintenanceService struct {
	scheduler *gocron.Scheduler
	store     *VectorStoreService
	cfg       *config.Config
}

func NewMaintenanceService(cfg *config.Config, store *VectorStoreService) *MaintenanceService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &MaintenanceService{
		scheduler: s,
		store:     store,
		cfg:       cfg,
	}
}

// Start registers the maintenance jobs and runs the scheduler in the
// background.
func (m *MaintenanceService) Start() error {
	if _, err := m.scheduler.Every(5 * time.Minute).Tag("index-health").Do(m.probeIndexHealth); err != nil {
		return err
	}
	if _, err := m.scheduler.Every(1 * time.Hour).Tag("upload-cleanup").Do(m.cleanupUploads); err != nil {
		return err
	}

	m.scheduler.StartAsync()
	logger.Info("Maintenance scheduler started")
	return nil
}

func (m *MaintenanceService) Stop() {
	m.scheduler.Stop()
}

func (m *MaintenanceService) probeIndexHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := m.store.CheckConfiguration(ctx)
	if !status.VectorStore {
		logger.Warn("Vector database is unreachable, ingestion and queries will fail")
	}
}

// cleanupUploads removes superseded PDF files. Each book keeps its newest
// upload; older files past the retention window are deleted.
func (m *MaintenanceService) cleanupUploads() {
	booksDir := filepath.Join(m.cfg.FileStorageDir, "books")
	entries, err := os.ReadDir(booksDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Upload cleanup failed to read storage dir", "dir", booksDir, "error", err)
		}
		return
	}

	retention := time.Duration(m.cfg.UploadRetentionHours) * time.Hour
	cutoff := time.Now().Add(-retention)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		removed += m.cleanupBookDir(filepath.Join(booksDir, entry.Name()), cutoff)
	}

	if removed > 0 {
		logger.Info("Removed superseded upload files", "count", removed)
	}
}

func (m *MaintenanceService) cleanupBookDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	type upload struct {
		path    string
		modTime time.Time
	}
	var uploads []upload
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pdf" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		uploads = append(uploads, upload{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	if len(uploads) <= 1 {
		return 0
	}

	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].modTime.After(uploads[j].modTime)
	})

	removed := 0
	// uploads[0] is the current file and always survives
	for _, u := range uploads[1:] {
		if u.modTime.After(cutoff) {
			continue
		}
		if err := os.Remove(u.path); err != nil {
			logger.Error("Failed to remove superseded upload", "path", u.path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
