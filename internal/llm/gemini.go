package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient serves deployments without a local model host. It
// targets the Gemini API directly, or Vertex AI when a project id is
// configured.
type GeminiClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}

	cc := genai.ClientConfig{}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Backend = genai.BackendVertexAI
		cc.Project = config.ProjectID
		if config.Location == "" {
			config.Location = "us-central1"
		}
		cc.Location = config.Location
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{config: config, client: client}, nil
}

func (c *GeminiClient) model(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.config.Model
}

func (c *GeminiClient) generateConfig(opts Options) *genai.GenerateContentConfig {
	temp := float32(opts.Temperature)
	topP := float32(opts.TopP)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
		TopP:        &topP,
	}
	if opts.NumPredict != 0 {
		cfg.MaxOutputTokens = int32(opts.NumPredict)
	}
	if opts.Seed != 0 {
		seed := int32(opts.Seed)
		cfg.Seed = &seed
	}
	if opts.JSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, opts Options) (json.RawMessage, error) {
	opts.JSONFormat = true
	cfg := c.generateConfig(opts)
	return generateJSONWithRetry(ctx, func(ctx context.Context) (string, error) {
		resp, err := c.client.Models.GenerateContent(ctx, c.model(opts), genai.Text(prompt), cfg)
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", errors.New("no candidates returned")
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil
	})
}

func (c *GeminiClient) Stream(ctx context.Context, prompt string, opts Options, fn func(string) error) error {
	cfg := c.generateConfig(opts)
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model(opts), genai.Text(prompt), cfg) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &GenerationError{Op: "stream", Err: err}
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			if err := fn(part.Text); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)[0])
	}
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, &EmbeddingError{Err: errors.New("embedding count mismatch")}
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *GeminiClient) Dim() int { return c.config.Dim }
