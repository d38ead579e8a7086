package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/h3ma209/Cora/internal/engine"
	"github.com/h3ma209/Cora/pkg/models"
)

// MockAsker implements Asker for testing.
type MockAsker struct {
	AskFunc       func(ctx context.Context, req engine.AskRequest) (models.AnswerResult, error)
	AskStreamFunc func(ctx context.Context, req engine.AskRequest, onChunk func(string) error) (models.AnswerResult, error)
}

func (m *MockAsker) Ask(ctx context.Context, req engine.AskRequest) (models.AnswerResult, error) {
	if m.AskFunc != nil {
		return m.AskFunc(ctx, req)
	}
	return models.AnswerResult{}, nil
}

func (m *MockAsker) AskStream(ctx context.Context, req engine.AskRequest, onChunk func(string) error) (models.AnswerResult, error) {
	if m.AskStreamFunc != nil {
		return m.AskStreamFunc(ctx, req, onChunk)
	}
	return models.AnswerResult{}, nil
}

// MockClassifier implements Classifier for testing.
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, text string) (models.ClassificationResult, error)
}

func (m *MockClassifier) Classify(ctx context.Context, text string) (models.ClassificationResult, error) {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, text)
	}
	return models.ClassificationResult{}, nil
}

func newTestServer(asker Asker, classifier Classifier) *httptest.Server {
	if asker == nil {
		asker = &MockAsker{}
	}
	if classifier == nil {
		classifier = &MockClassifier{}
	}
	s := &Server{Engine: asker, Classifier: classifier, Version: "test"}
	return httptest.NewServer(s.Routes())
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "healthy" || body["version"] != "test" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestIndex_EnumeratesEndpoints(t *testing.T) {
	srv := newTestServer(nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Endpoints map[string]string `json:"endpoints"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	for _, ep := range []string{"POST /ask", "POST /ask/stream", "POST /classify", "GET /health"} {
		if _, ok := body.Endpoints[ep]; !ok {
			t.Errorf("endpoint %s missing from self-description", ep)
		}
	}
}

func TestAsk_Success(t *testing.T) {
	asker := &MockAsker{AskFunc: func(ctx context.Context, req engine.AskRequest) (models.AnswerResult, error) {
		if req.Question != "How do I reset my password?" || req.AppName != "self-care" {
			t.Errorf("request not decoded: %+v", req)
		}
		return models.AnswerResult{
			Answer:     "Open settings.",
			Sources:    []models.Source{{Type: "article", ArticleID: "17", Similarity: 0.851}},
			Confidence: "high", RetrievedDocs: 1, SessionID: "s1",
		}, nil
	}}
	srv := newTestServer(asker, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/ask", map[string]string{"question": "How do I reset my password?", "app_name": "self-care"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var res models.AnswerResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if res.Answer != "Open settings." || res.Sources[0].ArticleID != "17" || res.SessionID != "s1" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestAsk_MissingQuestion(t *testing.T) {
	srv := newTestServer(nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/ask", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestAsk_EngineErrorIsOpaque500(t *testing.T) {
	asker := &MockAsker{AskFunc: func(ctx context.Context, req engine.AskRequest) (models.AnswerResult, error) {
		return models.AnswerResult{}, &engine.EngineError{Fallback: engine.FallbackAnswer, Err: errors.New("ollama exploded: secret dsn")}
	}}
	srv := newTestServer(asker, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/ask", map[string]string{"question": "q"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if strings.Contains(body["error"], "secret") || strings.Contains(body["error"], "ollama") {
		t.Errorf("raw backend error leaked: %v", body)
	}
}

func TestAsk_TimeoutDegradesToFallback(t *testing.T) {
	asker := &MockAsker{AskFunc: func(ctx context.Context, req engine.AskRequest) (models.AnswerResult, error) {
		return models.AnswerResult{}, context.DeadlineExceeded
	}}
	srv := newTestServer(asker, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/ask", map[string]string{"question": "q"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	var res models.AnswerResult
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if res.Confidence != "low" || res.Answer != engine.FallbackAnswer {
		t.Errorf("expected fallback result, got %+v", res)
	}
}

func TestAskStream_ChunksThenFinal(t *testing.T) {
	asker := &MockAsker{AskStreamFunc: func(ctx context.Context, req engine.AskRequest, onChunk func(string) error) (models.AnswerResult, error) {
		for _, c := range []string{"Hello", " ", "there"} {
			if err := onChunk(c); err != nil {
				return models.AnswerResult{}, err
			}
		}
		return models.AnswerResult{Answer: "Hello there", Sources: []models.Source{}, Confidence: "medium", SessionID: "s2"}, nil
	}}
	srv := newTestServer(asker, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/ask/stream", map[string]string{"question": "q"})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type %s", ct)
	}

	var chunks []string
	var final *models.AnswerResult
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev streamEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("stream line is not JSON: %s", sc.Text())
		}
		if ev.Final != nil {
			if final != nil {
				t.Fatal("more than one final event")
			}
			final = ev.Final
			continue
		}
		chunks = append(chunks, ev.Chunk)
	}
	if strings.Join(chunks, "") != "Hello there" {
		t.Errorf("chunks assemble to %q", strings.Join(chunks, ""))
	}
	if final == nil || final.SessionID != "s2" {
		t.Fatalf("missing or wrong final event: %+v", final)
	}
}

func TestAskStream_EngineErrorEmitsFallbackFinal(t *testing.T) {
	asker := &MockAsker{AskStreamFunc: func(ctx context.Context, req engine.AskRequest, onChunk func(string) error) (models.AnswerResult, error) {
		_ = onChunk("partial")
		return models.AnswerResult{}, &engine.EngineError{Fallback: engine.FallbackAnswer, Err: errors.New("backend died mid-stream")}
	}}
	srv := newTestServer(asker, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/ask/stream", map[string]string{"question": "q"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d; stream errors must close cleanly", resp.StatusCode)
	}

	var final *models.AnswerResult
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev streamEvent
		_ = json.Unmarshal(sc.Bytes(), &ev)
		if ev.Final != nil {
			final = ev.Final
		}
	}
	if final == nil {
		t.Fatal("no final event after engine error")
	}
	if final.Confidence != "low" || final.Answer != engine.FallbackAnswer {
		t.Errorf("expected fallback final, got %+v", final)
	}
}

func TestClassify_Success(t *testing.T) {
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, text string) (models.ClassificationResult, error) {
		return models.ClassificationResult{
			DetectedLanguage: "en", Category: "account", IssueType: "login-failure",
			RoutingDepartment: "digital-support", RecommendedArticleIDs: []string{"17"},
			Sentiment: "negative",
			Summaries: map[string]string{"en": "x", "ar": "x", "ckb": "x", "kmr": "x"},
		}, nil
	}}
	srv := newTestServer(nil, cls)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/classify", map[string]string{"text": "I cannot login"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := []string{"detected_language", "detected_dialect", "category", "issue_type",
		"routing_department", "recommended_article_ids", "sentiment", "summaries"}
	for _, k := range want {
		if _, ok := body[k]; !ok {
			t.Errorf("response missing key %s", k)
		}
	}
	if len(body) != len(want) {
		t.Errorf("response has %d keys, want exactly %d", len(body), len(want))
	}

	var summaries map[string]string
	_ = json.Unmarshal(body["summaries"], &summaries)
	for _, lang := range []string{"en", "ar", "ckb", "kmr"} {
		if _, ok := summaries[lang]; !ok {
			t.Errorf("summaries missing %s", lang)
		}
	}
}

func TestClassify_TimeoutIs504(t *testing.T) {
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, text string) (models.ClassificationResult, error) {
		return models.ClassificationResult{}, context.DeadlineExceeded
	}}
	srv := newTestServer(nil, cls)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/classify", map[string]string{"text": "t"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status %d, want 504", resp.StatusCode)
	}
}

func TestClassify_ValidationErrorIs500(t *testing.T) {
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, text string) (models.ClassificationResult, error) {
		return models.ClassificationResult{}, errors.New("missing required key sentiment")
	}}
	srv := newTestServer(nil, cls)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/classify", map[string]string{"text": "t"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status %d, want 500", resp.StatusCode)
	}
}

func TestClassify_MissingText(t *testing.T) {
	srv := newTestServer(nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/classify", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(nil, nil)
	defer srv.Close()

	for _, path := range []string{"/ask", "/ask/stream", "/classify"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: status %d, want 405", path, resp.StatusCode)
		}
	}
}
