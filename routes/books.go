package routes

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"elibrary-rag/internal/config"
	"elibrary-rag/internal/database"
	"elibrary-rag/internal/logger"
	"elibrary-rag/internal/queue"
	"elibrary-rag/services"
	"elibrary-rag/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// SetupBookRoutes wires the public surface of the retrieval core: upload
// (enqueue), ask, stats, and vector deletion.
func SetupBookRoutes(router *gin.Engine, cfg *config.Config, store *services.VectorStoreService, books *database.BookIndexRepository, queueClient *asynq.Client) {
	api := router.Group("/api")
	api.POST("/books/:id/pdf", HandleBookPDFUpload(cfg, books, queueClient))
	api.POST("/books/:id/ask", HandleBookQuestion(store))
	api.GET("/books/:id/stats", HandleBookStats(store))
	api.DELETE("/books/:id/vectors", HandleDeleteBookVectors(store, books))
}

// HandleBookPDFUpload accepts a PDF, persists it, records the upload, and
// enqueues a background ingestion task. The request returns immediately;
// indexing latency is decoupled from PDF size.
func HandleBookPDFUpload(cfg *config.Config, books *database.BookIndexRepository, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookID, err := parseBookID(c)
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid book id", nil)
			return
		}

		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		file, header, err := c.Request.FormFile("pdf")
		if err != nil {
			utils.RespondWithBadRequest(c, "No PDF file provided", nil)
			return
		}
		defer file.Close()

		ct := header.Header.Get("Content-Type")
		if !strings.Contains(ct, "pdf") && !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file_type", "Only PDF files are allowed", nil)
			return
		}
		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		// Basic PDF header validation without loading the whole file
		headerBuf := make([]byte, 5)
		if _, err := io.ReadFull(file, headerBuf); err != nil {
			utils.RespondWithBadRequest(c, "Cannot read file header", nil)
			return
		}
		if string(headerBuf[:4]) != "%PDF" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_pdf", "File does not appear to be a valid PDF", nil)
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset file for saving", nil)
			return
		}

		uploadDir := filepath.Join(cfg.FileStorageDir, "books", strconv.FormatInt(bookID, 10))
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
			return
		}

		filePath := filepath.Join(uploadDir, fmt.Sprintf("%s.pdf", uuid.NewString()))
		dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to open destination", nil)
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}
		dst.Close()

		// Recording the upload before enqueueing makes this path the
		// current generation; any in-flight ingest of an older file
		// will be discarded by the worker.
		if err := books.RecordUpload(c.Request.Context(), bookID, filePath); err != nil {
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to record upload", nil)
			return
		}

		metadata := map[string]any{}
		if title := c.PostForm("title"); title != "" {
			metadata["title"] = title
		}
		if author := c.PostForm("author"); author != "" {
			metadata["author"] = author
		}

		task, err := queue.NewIngestTask(bookID, filePath, metadata)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create ingest task", nil)
			return
		}
		info, err := queueClient.Enqueue(task)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue ingest task", nil)
			return
		}

		logger.Info("Queued book ingest", "book_id", bookID, "task_id", info.ID, "file", filePath)
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "queued",
			"book_id": bookID,
			"task_id": info.ID,
		})
	}
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

// HandleBookQuestion answers a question about one indexed book.
func HandleBookQuestion(store *services.VectorStoreService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookID, err := parseBookID(c)
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid book id", nil)
			return
		}

		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "A question is required", err.Error())
			return
		}

		result := store.QueryBook(c.Request.Context(), bookID, req.Question, req.TopK)
		c.JSON(http.StatusOK, result)
	}
}

// HandleBookStats reports the index state of one book.
func HandleBookStats(store *services.VectorStoreService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookID, err := parseBookID(c)
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid book id", nil)
			return
		}
		c.JSON(http.StatusOK, store.GetBookStats(c.Request.Context(), bookID))
	}
}

// HandleDeleteBookVectors removes a book's collection and clears its
// indexing status.
func HandleDeleteBookVectors(store *services.VectorStoreService, books *database.BookIndexRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookID, err := parseBookID(c)
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid book id", nil)
			return
		}

		if !store.DeleteBookVectors(c.Request.Context(), bookID) {
			utils.RespondWithInternalError(c, "Failed to delete book vectors", nil)
			return
		}
		if err := books.ClearIndex(c.Request.Context(), bookID); err != nil {
			logger.Error("Failed to clear index record", "book_id", bookID, "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "book_id": bookID})
	}
}

func parseBookID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
