package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeEmbeddingServer serves an OpenAI-compatible /embeddings endpoint.
// failModels return 500 so fallback can be exercised.
func fakeEmbeddingServer(t *testing.T, failModels map[string]bool, calls *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		*calls = append(*calls, req.Model)
		if failModels[req.Model] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []item `json:"data"`
			Model  string `json:"model"`
		}{Object: "list", Model: req.Model}
		for i := range req.Input {
			resp.Data = append(resp.Data, item{Object: "embedding", Embedding: []float32{0.1, 0.2, 0.3}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestRemote(t *testing.T, baseURL string, models []string, cacheSize int) *RemoteEmbedder {
	t.Helper()
	e, err := NewRemoteEmbedder(RemoteOptions{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Models:     models,
		Dimensions: 3,
		CacheSize:  cacheSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestRemoteEmbedder_Embed(t *testing.T) {
	var calls []string
	srv := fakeEmbeddingServer(t, nil, &calls)
	defer srv.Close()

	e := newTestRemote(t, srv.URL, []string{"model-a"}, 0)
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("got %v", vec)
	}
	if len(calls) != 1 {
		t.Errorf("expected 1 call, got %d", len(calls))
	}
}

func TestRemoteEmbedder_Fallback(t *testing.T) {
	var calls []string
	srv := fakeEmbeddingServer(t, map[string]bool{"model-a": true}, &calls)
	defer srv.Close()

	e := newTestRemote(t, srv.URL, []string{"model-a", "model-b"}, 0)
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 {
		t.Errorf("got %v", vec)
	}
	if len(calls) != 2 || calls[0] != "model-a" || calls[1] != "model-b" {
		t.Errorf("expected fallback a then b, got %v", calls)
	}
}

func TestRemoteEmbedder_AllFail(t *testing.T) {
	var calls []string
	srv := fakeEmbeddingServer(t, map[string]bool{"model-a": true, "model-b": true}, &calls)
	defer srv.Close()

	e := newTestRemote(t, srv.URL, []string{"model-a", "model-b"}, 0)
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error when all models fail")
	}
}

func TestRemoteEmbedder_Cache(t *testing.T) {
	var calls []string
	srv := fakeEmbeddingServer(t, nil, &calls)
	defer srv.Close()

	e := newTestRemote(t, srv.URL, []string{"model-a"}, 10)
	ctx := context.Background()
	if _, err := e.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Errorf("expected cache to absorb second call, got %d calls", len(calls))
	}
}

func TestRemoteEmbedder_NoModels(t *testing.T) {
	if _, err := NewRemoteEmbedder(RemoteOptions{BaseURL: "http://x", APIKey: "k"}); err == nil {
		t.Error("expected error with no models")
	}
}

func TestRemoteEmbedder_RoundRobin(t *testing.T) {
	e := &RemoteEmbedder{models: []string{"a", "b", "c"}}
	first := e.candidates()
	second := e.candidates()
	if first[0] != "a" || second[0] != "b" {
		t.Errorf("expected rotation, got %v then %v", first, second)
	}
	if len(first) != 3 {
		t.Errorf("candidates should include all models, got %v", first)
	}
}
