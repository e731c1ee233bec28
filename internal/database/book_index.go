package database

import (
	"context"
	"errors"
	"time"

	"elibrary-rag/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BookIndexRepository persists the per-book indexing-status record. The
// record's has_vector flag only flips to true through MarkIndexed, which is
// conditional on the PDF path so a superseded ingestion run cannot
// overwrite the state of a newer upload.
type BookIndexRepository struct {
	collection *mongo.Collection
}

func NewBookIndexRepository(client *mongo.Client, dbName string) *BookIndexRepository {
	return &BookIndexRepository{
		collection: client.Database(dbName).Collection("book_index"),
	}
}

// RecordUpload registers a new PDF for a book and resets its index state.
func (r *BookIndexRepository) RecordUpload(ctx context.Context, bookID int64, pdfPath string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": bookID},
		bson.M{
			"$set": bson.M{
				"pdf_path":   pdfPath,
				"has_vector": false,
				"updated_at": time.Now(),
			},
			"$unset": bson.M{
				"collection_name": "",
				"total_pages":     "",
				"chunks_count":    "",
				"processed_at":    "",
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// Get returns the record for a book, or nil when none exists.
func (r *BookIndexRepository) Get(ctx context.Context, bookID int64) (*models.BookIndex, error) {
	var record models.BookIndex
	err := r.collection.FindOne(ctx, bson.M{"_id": bookID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// CurrentPath returns the PDF path most recently recorded for a book.
func (r *BookIndexRepository) CurrentPath(ctx context.Context, bookID int64) (string, error) {
	record, err := r.Get(ctx, bookID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}
	return record.PDFPath, nil
}

// MarkIndexed flips has_vector and stores the ingest summary, but only when
// pdfPath still matches the record. Returns false when the record moved on
// (the book was re-uploaded while this ingestion ran) and the result must
// be discarded.
func (r *BookIndexRepository) MarkIndexed(ctx context.Context, bookID int64, pdfPath, collectionName string, pages, chunks int) (bool, error) {
	now := time.Now()
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": bookID, "pdf_path": pdfPath},
		bson.M{
			"$set": bson.M{
				"has_vector":      true,
				"collection_name": collectionName,
				"total_pages":     pages,
				"chunks_count":    chunks,
				"processed_at":    now,
				"updated_at":      now,
			},
		},
	)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

// MarkFailed records an ingestion failure, conditional on the same PDF path
// still being current.
func (r *BookIndexRepository) MarkFailed(ctx context.Context, bookID int64, pdfPath string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": bookID, "pdf_path": pdfPath},
		bson.M{
			"$set": bson.M{
				"has_vector": false,
				"updated_at": time.Now(),
			},
		},
	)
	return err
}

// ClearIndex resets the index state after a book's vectors were deleted.
func (r *BookIndexRepository) ClearIndex(ctx context.Context, bookID int64) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": bookID},
		bson.M{
			"$set": bson.M{
				"has_vector": false,
				"updated_at": time.Now(),
			},
			"$unset": bson.M{
				"collection_name": "",
				"processed_at":    "",
			},
		},
	)
	return err
}
