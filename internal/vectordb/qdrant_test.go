package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"elibrary-rag/models"
)

func okResult(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func TestCreateCollection(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/collections/book_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		okResult(w, true)
	}))
	defer srv.Close()

	client := NewClientWithURL(srv.URL)
	if !client.CreateCollection(context.Background(), "book_1", 384) {
		t.Fatal("CreateCollection returned false")
	}

	vectors, ok := captured["vectors"].(map[string]any)
	if !ok {
		t.Fatalf("missing vectors config in %v", captured)
	}
	if vectors["size"] != float64(384) {
		t.Errorf("size = %v, want 384", vectors["size"])
	}
	if vectors["distance"] != "Cosine" {
		t.Errorf("distance = %v, want Cosine", vectors["distance"])
	}
}

func TestUpsert(t *testing.T) {
	var captured struct {
		Points []models.Point `json:"points"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/collections/book_1/points" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Error("upsert must wait for completion")
		}
		json.NewDecoder(r.Body).Decode(&captured)
		okResult(w, map[string]any{"status": "completed"})
	}))
	defer srv.Close()

	points := []models.Point{
		{ID: 0, Vector: []float32{0.1, 0.2}, Payload: map[string]any{"text": "a"}},
		{ID: 1, Vector: []float32{0.3, 0.4}, Payload: map[string]any{"text": "b"}},
	}

	client := NewClientWithURL(srv.URL)
	if !client.Upsert(context.Background(), "book_1", points) {
		t.Fatal("Upsert returned false")
	}
	if len(captured.Points) != 2 || captured.Points[0].ID != 0 || captured.Points[1].ID != 1 {
		t.Errorf("unexpected points payload: %+v", captured.Points)
	}
}

func TestSearch(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/book_1/points/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		okResult(w, []map[string]any{
			{"id": 2, "score": 0.91, "payload": map[string]any{"text": "relevant chunk"}},
			{"id": 5, "score": 0.44, "payload": map[string]any{"text": "less relevant"}},
		})
	}))
	defer srv.Close()

	client := NewClientWithURL(srv.URL)
	results := client.Search(context.Background(), "book_1", []float32{0.1, 0.2}, 5, map[string]any{"book_id": 1})

	if captured["with_payload"] != true {
		t.Error("search must request payloads")
	}
	if captured["limit"] != float64(5) {
		t.Errorf("limit = %v, want 5", captured["limit"])
	}
	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatal("expected filter in request")
	}
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	if cond["key"] != "book_id" {
		t.Errorf("filter key = %v", cond["key"])
	}
	match := cond["match"].(map[string]any)
	if match["value"] != float64(1) {
		t.Errorf("filter value = %v", match["value"])
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 2 || results[0].Score != 0.91 {
		t.Errorf("first result = %+v", results[0])
	}
	if results[0].Payload["text"] != "relevant chunk" {
		t.Errorf("first payload = %v", results[0].Payload)
	}
}

func TestCollectionExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/book_1" {
			okResult(w, map[string]any{"status": "green", "points_count": 3, "vectors_count": 3})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClientWithURL(srv.URL)
	ctx := context.Background()

	if !client.CollectionExists(ctx, "book_1") {
		t.Error("expected book_1 to exist")
	}
	if client.CollectionExists(ctx, "book_2") {
		t.Error("expected book_2 to be absent")
	}
}

func TestCollectionInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResult(w, map[string]any{"status": "green", "points_count": 42, "vectors_count": 42})
	}))
	defer srv.Close()

	client := NewClientWithURL(srv.URL)
	info, err := client.CollectionInfo(context.Background(), "book_1")
	if err != nil {
		t.Fatalf("CollectionInfo failed: %v", err)
	}
	if info.Status != "green" || info.PointsCount != 42 || info.VectorsCount != 42 {
		t.Errorf("info = %+v", info)
	}
}

func TestDeleteCollection(t *testing.T) {
	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/collections/book_1" {
			deleted = true
		}
		okResult(w, true)
	}))
	defer srv.Close()

	client := NewClientWithURL(srv.URL)
	if !client.DeleteCollection(context.Background(), "book_1") {
		t.Fatal("DeleteCollection returned false")
	}
	if !deleted {
		t.Error("delete request never reached the server")
	}
}

func TestUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClientWithURL(srv.URL)
	ctx := context.Background()

	if client.CreateCollection(ctx, "book_1", 384) {
		t.Error("CreateCollection should fail against a closed endpoint")
	}
	if client.Upsert(ctx, "book_1", nil) {
		t.Error("Upsert should fail against a closed endpoint")
	}
	if results := client.Search(ctx, "book_1", []float32{0.1}, 5, nil); results != nil {
		t.Errorf("Search should return nil, got %v", results)
	}
	if client.Healthy(ctx) {
		t.Error("Healthy should be false against a closed endpoint")
	}
	if _, err := client.CollectionInfo(ctx, "book_1"); err == nil {
		t.Error("CollectionInfo should fail against a closed endpoint")
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		okResult(w, map[string]any{"collections": []any{}})
	}))
	defer srv.Close()

	client := NewClientWithURL(srv.URL)
	if !client.Healthy(context.Background()) {
		t.Error("expected healthy endpoint")
	}
}
