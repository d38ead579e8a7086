package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func ollamaServer(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllamaClient(&ClientConfig{Host: srv.URL, Model: "test-model", Dim: 4})
}

func TestGenerateJSON_Success(t *testing.T) {
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Stream {
			t.Error("one-shot generation must not stream")
		}
		if req.Format != "json" {
			t.Errorf("expected json format, got %q", req.Format)
		}
		if req.Options["seed"] != float64(42) {
			t.Errorf("expected seed 42, got %v", req.Options["seed"])
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: `{"category": "billing"}`, Done: true})
	})

	raw, err := c.GenerateJSON(context.Background(), "classify this", ClassifyOptions("test-model"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out["category"] != "billing" {
		t.Errorf("unexpected payload: %v", out)
	}
}

func TestGenerateJSON_RetriesOnceOnMalformedOutput(t *testing.T) {
	var calls atomic.Int32
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		resp := `not json at all`
		if n == 2 {
			resp = `{"ok": true}`
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: resp, Done: true})
	})

	raw, err := c.GenerateJSON(context.Background(), "p", ClassifyOptions(""))
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls.Load())
	}
	if !strings.Contains(string(raw), `"ok"`) {
		t.Errorf("unexpected payload: %s", raw)
	}
}

func TestGenerateJSON_FailsAfterSecondMalformedOutput(t *testing.T) {
	var calls atomic.Int32
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "still not json", Done: true})
	})

	_, err := c.GenerateJSON(context.Background(), "p", ClassifyOptions(""))
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls.Load())
	}
}

func TestStream_ForwardsChunksUntilDone(t *testing.T) {
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected a streaming request")
		}
		for _, tok := range []string{"Hello", " ", "world"} {
			fmt.Fprintf(w, `{"response": %q, "done": false}`+"\n", tok)
		}
		fmt.Fprintln(w, `{"response": "", "done": true}`)
		fmt.Fprintln(w, `{"response": "never seen", "done": false}`)
	})

	var got strings.Builder
	err := c.Stream(context.Background(), "p", QAOptions(""), func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "Hello world" {
		t.Errorf("assembled %q", got.String())
	}
}

func TestStream_ConsumerErrorStopsConsumption(t *testing.T) {
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, `{"response": "tok%d", "done": false}`+"\n", i)
		}
		fmt.Fprintln(w, `{"response": "", "done": true}`)
	})

	seen := 0
	wantErr := errors.New("client disconnected")
	err := c.Stream(context.Background(), "p", QAOptions(""), func(chunk string) error {
		seen++
		if seen == 3 {
			return wantErr
		}
		return nil
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected consumer error back, got %v", err)
	}
	if seen != 3 {
		t.Errorf("consumption continued past the error: %d chunks", seen)
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response": "first", "done": false}`)
		w.(http.Flusher).Flush()
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	err := c.Stream(ctx, "p", QAOptions(""), func(chunk string) error {
		cancel() // simulate the boundary tearing down mid-stream
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEmbed_Batch(t *testing.T) {
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{0.1, 0.2, 0.3, 0.4})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 4 {
		t.Fatalf("unexpected shape: %d x %d", len(vecs), len(vecs[0]))
	}
	if vecs[0][1] != float32(0.2) {
		t.Errorf("float conversion lost data: %v", vecs[0])
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1}}})
	})
	_, err := c.Embed(context.Background(), []string{"a", "b"})
	var eerr *EmbeddingError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	c := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})
	_, err := c.Embed(context.Background(), []string{"a"})
	var eerr *EmbeddingError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
}
