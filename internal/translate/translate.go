package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout is the hard ceiling on any translator call.
const DefaultTimeout = 5 * time.Second

// Client talks to the external translation service. Translation is
// best-effort decoration: every failure degrades to a no-op so answer
// generation never blocks on it.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a translator client for the given endpoint URL. An empty
// URL yields a client whose every call is a no-op.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	Language string `json:"language"`
}

// Detect returns the language code of text, or "en" with ok=false when
// the service is unavailable or returned junk.
func (c *Client) Detect(ctx context.Context, text string) (lang string, ok bool) {
	if c.baseURL == "" {
		return "en", false
	}
	var out detectResponse
	if err := c.post(ctx, "/detect", detectRequest{Text: text}, &out); err != nil {
		log.Debug().Err(err).Msg("language detection failed, defaulting to en")
		return "en", false
	}
	if strings.TrimSpace(out.Language) == "" {
		return "en", false
	}
	return out.Language, true
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

// Translate converts text from src to dst. On any failure the input
// comes back unchanged with ok=false.
func (c *Client) Translate(ctx context.Context, text, src, dst string) (out string, ok bool) {
	if c.baseURL == "" || src == dst {
		return text, false
	}
	var resp translateResponse
	if err := c.post(ctx, "/translate", translateRequest{Text: text, Source: src, Target: dst}, &resp); err != nil {
		log.Debug().Err(err).Str("src", src).Str("dst", dst).Msg("translation failed, passing through")
		return text, false
	}
	if strings.TrimSpace(resp.Translation) == "" {
		return text, false
	}
	return resp.Translation, true
}

func (c *Client) post(ctx context.Context, path string, body, into any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("translator " + path + ": " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
