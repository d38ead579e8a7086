package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/h3ma209/Cora/internal/engine"
	"github.com/h3ma209/Cora/pkg/models"
)

// Asker answers customer questions.
type Asker interface {
	Ask(ctx context.Context, req engine.AskRequest) (models.AnswerResult, error)
	AskStream(ctx context.Context, req engine.AskRequest, onChunk func(string) error) (models.AnswerResult, error)
}

// Classifier routes support tickets.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.ClassificationResult, error)
}

// Server wires the HTTP boundary to the engine and classifier.
type Server struct {
	Engine     Asker
	Classifier Classifier
	Version    string
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/ask/stream", s.handleAskStream)
	mux.HandleFunc("/classify", s.handleClassify)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "cora",
		"version": s.Version,
		"endpoints": map[string]string{
			"POST /ask":        "answer a customer question",
			"POST /ask/stream": "answer as a newline-delimited JSON stream",
			"POST /classify":   "classify a support ticket",
			"GET /health":      "liveness probe",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.Version,
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req engine.AskRequest
	if !decodeAskRequest(w, r, &req) {
		return
	}

	res, err := s.Engine.Ask(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// A breached ceiling is still a safe answer, not an error page.
			writeJSON(w, http.StatusOK, fallbackResult(req.SessionID))
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("ask failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// streamEvent is one line of the /ask/stream response.
type streamEvent struct {
	Chunk string               `json:"chunk,omitempty"`
	Final *models.AnswerResult `json:"final,omitempty"`
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	var req engine.AskRequest
	if !decodeAskRequest(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	res, err := s.Engine.AskStream(r.Context(), req, func(chunk string) error {
		if err := enc.Encode(streamEvent{Chunk: chunk}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client is gone; nothing left to write.
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("stream degraded to fallback")
		res = fallbackResult(req.SessionID)
		_ = enc.Encode(streamEvent{Chunk: res.Answer})
	}
	_ = enc.Encode(streamEvent{Final: &res})
	flusher.Flush()
}

type classifyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "missing text", http.StatusBadRequest)
		return
	}

	res, err := s.Classifier.Classify(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "classification timed out"})
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("classify failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeAskRequest(w http.ResponseWriter, r *http.Request, req *engine.AskRequest) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil || req.Question == "" {
		http.Error(w, "missing question", http.StatusBadRequest)
		return false
	}
	return true
}

func fallbackResult(sessionID string) models.AnswerResult {
	return models.AnswerResult{
		Answer:     engine.FallbackAnswer,
		Sources:    []models.Source{},
		Confidence: "low",
		SessionID:  sessionID,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
