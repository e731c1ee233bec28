package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"elibrary-rag/internal/config"
	"elibrary-rag/internal/logger"
	"elibrary-rag/models"
)

// Client is a REST client to the Qdrant vector database. Read operations
// degrade gracefully on transport failure (log and return false/empty);
// write failures are reported as false so ingestion can abort.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.QdrantURL(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewClientWithURL is used by tests and tooling that talk to a non-default
// endpoint.
func NewClientWithURL(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CollectionExists reports whether a collection is present.
func (c *Client) CollectionExists(ctx context.Context, name string) bool {
	_, err := c.collectionInfo(ctx, name)
	return err == nil
}

// CreateCollection creates a cosine-distance collection with the given
// vector size. Repeat creation of an existing collection is not treated as
// fatal by callers; the store rejects it without corrupting the collection.
func (c *Client) CreateCollection(ctx context.Context, name string, vectorSize int) bool {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", name), body, nil); err != nil {
		logger.Error("Failed to create Qdrant collection", "collection", name, "error", err)
		return false
	}
	logger.Info("Qdrant collection created", "collection", name)
	return true
}

// Upsert writes points with wait-for-completion, so a true return means the
// points are queryable.
func (c *Client) Upsert(ctx context.Context, name string, points []models.Point) bool {
	body := map[string]any{"points": points}
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", name), body, nil); err != nil {
		logger.Error("Failed to insert vectors", "collection", name, "error", err)
		return false
	}
	logger.Info("Inserted vectors", "collection", name, "count", len(points))
	return true
}

// Search returns the topK most similar points, sorted descending by score.
// The optional filter restricts matches by payload field equality.
func (c *Client) Search(ctx context.Context, name string, queryVector []float32, limit int, filter map[string]any) []models.SearchResult {
	if limit <= 0 {
		limit = 5
	}
	body := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]map[string]any, 0, len(filter))
		for key, value := range filter {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": value},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []struct {
			ID      int            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", name), body, &resp); err != nil {
		logger.Error("Qdrant search failed", "collection", name, "error", err)
		return nil
	}

	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, models.SearchResult{
			ID:      r.ID,
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	logger.Debug("Qdrant search returned results", "collection", name, "count", len(results))
	return results
}

// DeleteCollection removes a collection and all of its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) bool {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", name), nil, nil); err != nil {
		logger.Error("Failed to delete collection", "collection", name, "error", err)
		return false
	}
	logger.Info("Deleted Qdrant collection", "collection", name)
	return true
}

// CollectionInfo returns point counts and status for a collection.
func (c *Client) CollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error) {
	info, err := c.collectionInfo(ctx, name)
	if err != nil {
		logger.Error("Failed to get collection info", "collection", name, "error", err)
		return nil, err
	}
	return info, nil
}

// Healthy reports whether the Qdrant endpoint answers at all.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

func (c *Client) collectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error) {
	var resp struct {
		Result struct {
			Status       string `json:"status"`
			PointsCount  int64  `json:"points_count"`
			VectorsCount int64  `json:"vectors_count"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", name), nil, &resp); err != nil {
		return nil, err
	}
	return &models.CollectionInfo{
		Status:       resp.Result.Status,
		PointsCount:  resp.Result.PointsCount,
		VectorsCount: resp.Result.VectorsCount,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: qdrant %s %s failed: %s", models.ErrIndexUnavailable, method, path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
