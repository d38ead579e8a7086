package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// streamIdleTimeout cancels a streaming generation when the backend
// stops emitting tokens.
const streamIdleTimeout = 30 * time.Second

// OllamaClient talks to Ollama's native API: /api/generate for
// generation (one-shot and NDJSON streaming) and /api/embed for
// batched embeddings.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

// NewOllamaClient creates a client for an Ollama host.
func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.Host == "" {
		config.Host = "http://localhost:11434"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = config.Model
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	// No overall client timeout: streaming responses stay open for the
	// life of the generation. Deadlines come from the request context.
	return &OllamaClient{
		config: config,
		http:   &http.Client{},
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *OllamaClient) options(opts Options) map[string]any {
	o := map[string]any{
		"temperature": opts.Temperature,
		"top_p":       opts.TopP,
	}
	if opts.Seed != 0 {
		o["seed"] = opts.Seed
	}
	if opts.NumPredict != 0 {
		o["num_predict"] = opts.NumPredict
	}
	return o
}

func (c *OllamaClient) model(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.config.Model
}

func (c *OllamaClient) GenerateJSON(ctx context.Context, prompt string, opts Options) (json.RawMessage, error) {
	return generateJSONWithRetry(ctx, func(ctx context.Context) (string, error) {
		body := ollamaGenerateRequest{
			Model:   c.model(opts),
			Prompt:  prompt,
			Stream:  false,
			Format:  "json",
			Options: c.options(opts),
		}
		resp, err := c.post(ctx, "/api/generate", body)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		var out ollamaGenerateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decoding generate response: %w", err)
		}
		return out.Response, nil
	})
}

func (c *OllamaClient) Stream(ctx context.Context, prompt string, opts Options, fn func(string) error) error {
	body := ollamaGenerateRequest{
		Model:   c.model(opts),
		Prompt:  prompt,
		Stream:  true,
		Options: c.options(opts),
	}

	// Watchdog: cancel the request when no chunk arrives within the
	// idle ceiling. Closing the context closes the connection. A stall
	// is reported as a GenerationError, not as caller cancellation.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stalled atomic.Bool
	idle := time.AfterFunc(streamIdleTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer idle.Stop()
	errStalled := &GenerationError{Op: "stream", Err: errors.New("no token within idle timeout")}

	resp, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		if stalled.Load() {
			return errStalled
		}
		return &GenerationError{Op: "stream", Err: err}
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		idle.Reset(streamIdleTimeout)
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaGenerateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return &GenerationError{Op: "stream decode", Err: err}
		}
		if chunk.Response != "" {
			if err := fn(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		if stalled.Load() {
			return errStalled
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &GenerationError{Op: "stream read", Err: err}
	}
	return nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := ollamaEmbedRequest{Model: c.config.EmbedModel, Input: texts}
	resp, err := c.post(ctx, "/api/embed", body)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	defer resp.Body.Close()

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &EmbeddingError{Err: fmt.Errorf("decoding embed response: %w", err)}
	}
	if len(out.Embeddings) != len(texts) {
		return nil, &EmbeddingError{Err: errors.New("embedding count mismatch")}
	}
	result := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		result[i] = float64sToFloat32s(emb)
	}
	return result, nil
}

func (c *OllamaClient) Dim() int { return c.config.Dim }

func (c *OllamaClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Host+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama %s: %s: %s", path, resp.Status, string(msg))
	}
	return resp, nil
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
