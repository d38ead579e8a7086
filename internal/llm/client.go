package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client provides generation and embedding over the model backend.
type Client interface {
	// GenerateJSON requests strict-JSON output, retrying once on a
	// parse failure before giving up with a *GenerationError.
	GenerateJSON(ctx context.Context, prompt string, opts Options) (json.RawMessage, error)
	// Stream produces the answer token chunks through fn. A non-nil
	// error from fn, or cancellation of ctx, stops consumption and
	// closes the underlying connection.
	Stream(ctx context.Context, prompt string, opts Options, fn func(chunk string) error) error
	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dim returns the embedding dimensionality.
	Dim() int
}

// Options is the enumerated generation option surface.
type Options struct {
	Model       string
	Temperature float64
	TopP        float64
	Seed        int
	NumPredict  int
	JSONFormat  bool
}

// ClassifyOptions are the defaults for one-shot classification calls.
func ClassifyOptions(model string) Options {
	return Options{
		Model:       model,
		Temperature: 0.4,
		TopP:        0.15,
		Seed:        42,
		NumPredict:  256,
		JSONFormat:  true,
	}
}

// QAOptions are the defaults for conversational answer generation.
func QAOptions(model string) Options {
	return Options{
		Model:       model,
		Temperature: 0.3,
		TopP:        0.85,
		NumPredict:  500,
	}
}

// Provider is the enumeration of supported backends.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for the model backends.
type ClientConfig struct {
	Provider   Provider
	Host       string // backend base URL (ollama)
	Model      string // default generation model
	EmbedModel string
	APIKey     string // gemini
	ProjectID  string // gemini via Vertex
	Location   string // gemini via Vertex
	Dim        int
}

// NewClient creates a backend client from configuration.
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	switch config.Provider {
	case ProviderOllama, "":
		return NewOllamaClient(config), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// GenerationError reports a failed generation, including JSON output
// that stayed malformed after the retry.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string { return "llm: " + e.Op + ": " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding model failure.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "llm: embed: " + e.Err.Error() }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// generateJSONWithRetry drives a one-shot generate function through
// the strict-JSON contract shared by all backends.
func generateJSONWithRetry(ctx context.Context, generate func(context.Context) (string, error)) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		out, err := generate(ctx)
		if err != nil {
			return nil, &GenerationError{Op: "generate", Err: err}
		}
		raw, err := extractJSON(out)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, &GenerationError{Op: "parse json", Err: lastErr}
}

// extractJSON validates that s holds a single JSON object, tolerating
// surrounding prose and markdown fences the model may emit.
func extractJSON(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	return json.RawMessage(s), nil
}

// StubClient is an offline backend for tests and local runs.
type StubClient struct {
	dim int
	// JSONResponse, when set, is returned by GenerateJSON verbatim.
	JSONResponse string
	// Chunks, when set, are streamed by Stream.
	Chunks []string
}

// NewStubClient creates a StubClient with the given dimensionality.
func NewStubClient(dim int) *StubClient {
	if dim == 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) GenerateJSON(ctx context.Context, prompt string, opts Options) (json.RawMessage, error) {
	if s.JSONResponse != "" {
		raw, err := extractJSON(s.JSONResponse)
		if err != nil {
			return nil, &GenerationError{Op: "parse json", Err: err}
		}
		return raw, nil
	}
	return json.RawMessage(`{}`), nil
}

func (s *StubClient) Stream(ctx context.Context, prompt string, opts Options, fn func(string) error) error {
	chunks := s.Chunks
	if len(chunks) == 0 {
		chunks = []string{"I don't have enough information for that - please contact support."}
	}
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Embed returns a deterministic pseudo-embedding so tests get stable,
// non-zero vectors.
func (s *StubClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, s.dim)
		for j := range v {
			v[j] = float32((len(t)+i+j)%13) / 13
		}
		out[i] = v
	}
	return out, nil
}

func (s *StubClient) Dim() int { return s.dim }
