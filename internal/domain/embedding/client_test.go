package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func mockEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("Expected path /embed, got %s", r.URL.Path)
		}

		var req EmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		inputs, ok := req.Inputs.([]interface{})
		if !ok {
			inputs = []interface{}{req.Inputs}
		}

		embeddings := make([][]float32, len(inputs))
		for i := range embeddings {
			embeddings[i] = make([]float32, Dimensions)
			for j := range embeddings[i] {
				embeddings[i][j] = float32(i+j) / float32(Dimensions)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embeddings)
	}))
}

func TestHTTPClient_Embed(t *testing.T) {
	server := mockEmbedServer(t)
	defer server.Close()

	client, err := NewHTTPClient(server.URL, CacheConfig{Type: "noop"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()
	embeddings, err := client.Embed(ctx, []string{"test query"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(embeddings) != 1 {
		t.Errorf("Expected 1 embedding, got %d", len(embeddings))
	}

	if len(embeddings[0]) != Dimensions {
		t.Errorf("Expected %d dimensions, got %d", Dimensions, len(embeddings[0]))
	}
}

func TestHTTPClient_BatchEmbed(t *testing.T) {
	server := mockEmbedServer(t)
	defer server.Close()

	client, err := NewHTTPClient(server.URL, CacheConfig{Type: "noop"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()
	texts := []string{"text1", "text2", "text3"}
	embeddings, err := client.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Batch embed failed: %v", err)
	}

	if len(embeddings) != 3 {
		t.Errorf("Expected 3 embeddings, got %d", len(embeddings))
	}

	for i, emb := range embeddings {
		if len(emb) != Dimensions {
			t.Errorf("Embedding %d: expected %d dimensions, got %d", i, Dimensions, len(emb))
		}
	}
}

func TestHTTPClient_CacheHit(t *testing.T) {
	callCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++

		var req EmbedRequest
		json.NewDecoder(r.Body).Decode(&req)

		embeddings := [][]float32{make([]float32, Dimensions)}
		for j := range embeddings[0] {
			embeddings[0][j] = 0.5
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embeddings)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, CacheConfig{
		Type:    "memory",
		MaxSize: 100,
		TTL:     1 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()

	// First call - cache miss
	_, err = client.Embed(ctx, []string{"test query"})
	if err != nil {
		t.Fatalf("First embed failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 API call after first request, got %d", callCount)
	}

	// Second call - cache hit
	_, err = client.Embed(ctx, []string{"test query"})
	if err != nil {
		t.Fatalf("Second embed failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 API call after cache hit, got %d", callCount)
	}
}

func TestHTTPClient_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fewer vectors than inputs
		json.NewEncoder(w).Encode([][]float32{make([]float32, Dimensions)})
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, CacheConfig{Type: "noop"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Error("Expected error on embedding count mismatch")
	}
}

func TestHTTPClient_ValidateServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/info":
			info := ModelInfo{ModelID: "BAAI/bge-m3"}
			json.NewEncoder(w).Encode(info)
		case "/embed":
			embeddings := [][]float32{make([]float32, Dimensions)}
			json.NewEncoder(w).Encode(embeddings)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, CacheConfig{Type: "noop"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()
	if err := client.ValidateServer(ctx); err != nil {
		t.Errorf("ValidateServer failed: %v", err)
	}
}

func TestMemoryCache(t *testing.T) {
	cache, err := NewMemoryCache(10, 1*time.Second)
	if err != nil {
		t.Fatalf("Failed to create memory cache: %v", err)
	}

	embedding := []float32{0.1, 0.2, 0.3}
	cache.Set("key1", embedding, 1*time.Second)

	retrieved, found := cache.Get("key1")
	if !found {
		t.Error("Expected to find cached item")
	}

	if len(retrieved) != len(embedding) {
		t.Errorf("Expected %d elements, got %d", len(embedding), len(retrieved))
	}

	// Test expiration
	cache.Set("key2", embedding, 1*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, found = cache.Get("key2")
	if found {
		t.Error("Expected expired item to not be found")
	}
}

func TestNoOpsCache(t *testing.T) {
	cache := NewNoOpsCache()

	embedding := []float32{0.1, 0.2, 0.3}
	cache.Set("key1", embedding, 1*time.Hour)

	_, found := cache.Get("key1")
	if found {
		t.Error("NoOps cache should never return found")
	}
}

type failingClient struct {
	calls int
}

func (f *failingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func (f *failingClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	_, err := f.Embed(ctx, []string{text})
	return nil, err
}

func (f *failingClient) ValidateServer(ctx context.Context) error { return nil }

func TestBreakerClient_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingClient{}
	client := NewBreakerClient(inner)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		client.Embed(ctx, []string{"x"})
	}

	if inner.calls >= 10 {
		t.Errorf("Expected breaker to stop forwarding calls, inner saw %d", inner.calls)
	}

	_, err := client.Embed(ctx, []string{"x"})
	if err == nil {
		t.Error("Expected error from open breaker")
	}
}

func BenchmarkEmbed_Single(b *testing.B) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		embeddings := [][]float32{make([]float32, Dimensions)}
		json.NewEncoder(w).Encode(embeddings)
	}))
	defer server.Close()

	client, _ := NewHTTPClient(server.URL, CacheConfig{Type: "noop"})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		client.Embed(ctx, []string{"test query"})
	}
}
