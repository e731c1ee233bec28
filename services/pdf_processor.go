package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"elibrary-rag/internal/config"
	"elibrary-rag/internal/logger"
	"elibrary-rag/models"

	"github.com/ledongthuc/pdf"
)

const (
	// maxTextLength caps extracted text (~100 pages) to bound memory.
	maxTextLength = 500000
	// maxChunks is a hard safety limit per book.
	maxChunks = 500
	// minChunkLength is the minimum surviving chunk length after trimming.
	minChunkLength = 50
)

var (
	horizontalWS = regexp.MustCompile(`[ \t]+`)
	manyNewlines = regexp.MustCompile(`\n{3,}`)
)

// PDFProcessor extracts text from book PDFs and splits it into overlapping,
// boundary-aware chunks ready for embedding.
type PDFProcessor struct {
	chunkSize    int
	chunkOverlap int
}

func NewPDFProcessor(cfg *config.Config) *PDFProcessor {
	p := &PDFProcessor{
		chunkSize:    cfg.MaxChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}
	if p.chunkSize <= 0 {
		p.chunkSize = 1000
	}
	if p.chunkOverlap < 0 {
		p.chunkOverlap = 200
	}
	return p
}

// SetChunkParameters overrides chunk size and overlap.
func (p *PDFProcessor) SetChunkParameters(size, overlap int) {
	p.chunkSize = size
	p.chunkOverlap = overlap
}

// ExtractText pulls the concatenated text and page count from a PDF file.
// The text is cleaned and truncated to maxTextLength; truncation only logs
// a warning. An unparseable document is fatal to the ingestion run.
func (p *PDFProcessor) ExtractText(ctx context.Context, filePath string) (*models.ExtractedText, error) {
	// Enforce context deadline before heavy operations
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) <= 0 {
			return nil, fmt.Errorf("%w: context deadline exceeded", models.ErrExtraction)
		}
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrExtraction, filePath, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrExtraction, err)
	}

	var textBuilder strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract text from page", "page", i, "error", err)
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	raw := textBuilder.String()
	if raw == "" {
		return nil, fmt.Errorf("%w: no text extracted", models.ErrExtraction)
	}

	if runes := []rune(raw); len(runes) > maxTextLength {
		logger.Warn("PDF text too large, truncating", "from", len(runes), "to", maxTextLength)
		raw = string(runes[:maxTextLength])
	}

	return &models.ExtractedText{
		Text:  CleanText(raw),
		Pages: pages,
	}, nil
}

// CleanText normalizes extracted PDF text: line endings become \n,
// non-printable characters are stripped, runs of spaces and tabs collapse to
// a single space, and three or more consecutive newlines collapse to two.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.Is(unicode.C, r) {
			return -1
		}
		return r
	}, text)

	text = horizontalWS.ReplaceAllString(text, " ")
	text = manyNewlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// SplitIntoChunks splits cleaned text into chunks of roughly chunkSize
// characters with chunkOverlap characters of overlap, snapping to the last
// sentence or line boundary when one falls past 70% of the chunk. Position
// always advances by at least one rune, so the loop terminates for any
// input. Slices no longer than the overlap are skipped rather than emitted.
func (p *PDFProcessor) SplitIntoChunks(text string, metadata map[string]any) []models.ContentChunk {
	runes := []rune(text)
	textLength := len(runes)

	var chunks []models.ContentChunk
	position := 0
	chunkIndex := 0

	for position < textLength && chunkIndex < maxChunks {
		end := position + p.chunkSize
		if end > textLength {
			end = textLength
		}
		slice := runes[position:end]

		// Try to end at a sentence or line boundary, but only when this
		// is not the final slice of the text.
		if position+p.chunkSize < textLength {
			breakPoint := lastBreakPoint(slice)
			if breakPoint > int(float64(p.chunkSize)*0.7) {
				slice = slice[:breakPoint+1]
			}
		}

		actualLength := len(slice)
		if actualLength == 0 || actualLength <= p.chunkOverlap {
			position += max(1, p.chunkSize)
			continue
		}

		clean := strings.TrimSpace(string(slice))
		if utf8.RuneCountInString(clean) > minChunkLength {
			md := make(map[string]any, len(metadata)+2)
			for k, v := range metadata {
				md[k] = v
			}
			md["chunk_index"] = chunkIndex
			md["chunk_size"] = utf8.RuneCountInString(clean)

			chunks = append(chunks, models.ContentChunk{
				Text:     clean,
				Index:    chunkIndex,
				Metadata: md,
			})
			chunkIndex++
		}

		position += max(1, actualLength-p.chunkOverlap)
	}

	if chunkIndex >= maxChunks {
		logger.Warn("PDF chunking stopped at safety limit", "max_chunks", maxChunks)
	}

	return chunks
}

// lastBreakPoint returns the index of the best break point (the later of
// the last '.' and the last '\n'), or -1 when the slice has neither.
func lastBreakPoint(slice []rune) int {
	breakPoint := -1
	for i, r := range slice {
		if r == '.' || r == '\n' {
			breakPoint = i
		}
	}
	return breakPoint
}

// ProcessPDF extracts text from a PDF, merges document metadata with the
// caller's, and splits the result into chunks.
func (p *PDFProcessor) ProcessPDF(ctx context.Context, filePath string, metadata map[string]any) (*models.ProcessedDocument, error) {
	extracted, err := p.ExtractText(ctx, filePath)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any)
	for k, v := range p.documentMetadata(filePath) {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}

	chunks := p.SplitIntoChunks(extracted.Text, merged)

	return &models.ProcessedDocument{
		Chunks:     chunks,
		Pages:      extracted.Pages,
		TextLength: utf8.RuneCountInString(extracted.Text),
		Metadata:   merged,
	}, nil
}

// documentMetadata reads the PDF Info dictionary best-effort; a PDF without
// one (or an unreadable one) just contributes nothing.
func (p *PDFProcessor) documentMetadata(filePath string) map[string]any {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil
	}
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil
	}

	info := reader.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return nil
	}

	meta := make(map[string]any)
	for _, key := range []string{"Title", "Author", "Subject", "Keywords", "Creator", "Producer"} {
		if v := info.Key(key); v.Kind() == pdf.String {
			if s := v.RawString(); s != "" {
				meta[strings.ToLower(key)] = s
			}
		}
	}
	return meta
}
