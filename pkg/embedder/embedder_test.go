package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}

	n := Normalize(v)

	if v[0] != 3 || v[1] != 4 {
		t.Fatalf("Normalize modified its input: %v", v)
	}
	if math.Abs(float64(n[0])-0.6) > 1e-6 || math.Abs(float64(n[1])-0.8) > 1e-6 {
		t.Errorf("Normalize(3,4) = %v, want [0.6 0.8]", n)
	}
}

func TestNormalize_Zero(t *testing.T) {
	n := Normalize([]float32{0, 0, 0})
	for i, x := range n {
		if x != 0 {
			t.Errorf("n[%d] = %v, want 0", i, x)
		}
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "Red wine, from Bordeaux")
	b, _ := e.Embed(ctx, "red WINE from bordeaux!")

	if len(a) != 64 {
		t.Fatalf("Expected dimension 64, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Expected identical vectors, differ at %d", i)
		}
	}
}

func TestHashEmbedder_Batch(t *testing.T) {
	e := NewHashEmbedder(0)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("Expected 3 vectors, got %d", len(vecs))
	}
	if e.Dimension() != 256 {
		t.Errorf("Expected default dimension 256, got %d", e.Dimension())
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("model = %q, want %q", req.Model, DefaultModel)
		}

		// Answer in reverse order to check the index mapping
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	})

	e, err := NewOpenAIEmbedder(client, "")
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder failed: %v", err)
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"zero", "one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("Expected a single API call, got %d", n)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vecs[%d][0] = %v, want %d", i, v[0], i)
		}
	}
	if e.ModelInfo() != "openai-text-embedding-3-small" || e.Dimension() != 1536 {
		t.Errorf("unexpected model info %s/%d", e.ModelInfo(), e.Dimension())
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	e, _ := NewOpenAIEmbedder(client, "text-embedding-3-large")

	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error from failing API")
	}
	if _, err := e.Embed(context.Background(), ""); err == nil {
		t.Fatal("Expected error for empty text")
	}
}
