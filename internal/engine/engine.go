package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/h3ma209/Cora/internal/llm"
	"github.com/h3ma209/Cora/internal/session"
	"github.com/h3ma209/Cora/internal/store"
	"github.com/h3ma209/Cora/pkg/models"
)

// Per-subsystem ceilings. A breached ceiling degrades to the safe
// fallback answer rather than an error page.
const (
	retrievalTimeout = 2 * time.Second
	totalTimeout     = 60 * time.Second
)

// FallbackAnswer is the canned response when retrieval produces
// nothing usable.
const FallbackAnswer = "I don't have enough information for that - please contact support."

// Retriever is the slice of the retrieval service the engine needs.
type Retriever interface {
	RetrieveAndFormat(ctx context.Context, query string, k int, f store.Filter, threshold float64) (string, []models.Hit, error)
}

// Translator is the slice of the translation client the engine needs.
type Translator interface {
	Detect(ctx context.Context, text string) (lang string, ok bool)
	Translate(ctx context.Context, text, src, dst string) (out string, ok bool)
}

// Prompter builds the conversational prompt.
type Prompter interface {
	QA(question, context string, history []models.Turn) string
}

// Engine orchestrates one Q&A request: resolve session, detect
// language, retrieve, assemble, stream, normalize, persist, attribute.
//
// Retrieval-language policy: search-in-source. The multilingual
// embedding model handles the corpus languages directly, so the
// question is never translated before retrieval; the translator only
// normalizes the answer language afterwards. Detection and retrieval
// therefore run in parallel.
type Engine struct {
	Retriever  Retriever
	Sessions   *session.Manager
	Prompts    Prompter
	LLM        llm.Client
	Translator Translator
	Model      string
	MaxTurns   int
}

// AskRequest is one Q&A invocation. Language, AppName and SessionID
// are optional.
type AskRequest struct {
	Question  string `json:"question"`
	Language  string `json:"language,omitempty"`
	AppName   string `json:"app_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// EngineError wraps a generation failure with a string safe to show
// the customer.
type EngineError struct {
	Fallback string
	Err      error
}

func (e *EngineError) Error() string { return "engine: " + e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }

// Ask answers without streaming.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (models.AnswerResult, error) {
	return e.ask(ctx, req, nil)
}

// AskStream answers while forwarding each token chunk to onChunk. The
// terminal AnswerResult carries the full accumulated answer. A
// cancelled ctx stops consumption without committing a partial turn.
func (e *Engine) AskStream(ctx context.Context, req AskRequest, onChunk func(string) error) (models.AnswerResult, error) {
	return e.ask(ctx, req, onChunk)
}

func (e *Engine) ask(ctx context.Context, req AskRequest, onChunk func(string) error) (models.AnswerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	sessionID, _ := e.Sessions.GetOrCreate(req.SessionID)
	question := strings.TrimSpace(req.Question)

	// Detection and retrieval are independent under the
	// search-in-source policy; run both before assembling.
	lang := req.Language
	var contextBlock string
	var hits []models.Hit
	var retrieveErr error

	g, gctx := errgroup.WithContext(ctx)
	if lang == "" {
		g.Go(func() error {
			lang, _ = e.Translator.Detect(gctx, question)
			return nil
		})
	}
	g.Go(func() error {
		rctx, rcancel := context.WithTimeout(gctx, retrievalTimeout)
		defer rcancel()
		contextBlock, hits, retrieveErr = e.Retriever.RetrieveAndFormat(
			rctx, question, 3, store.Filter{AppName: req.AppName}, 0.3)
		return nil
	})
	_ = g.Wait()
	if lang == "" {
		lang = "en"
	}

	if retrieveErr != nil {
		log.Warn().Err(retrieveErr).Msg("retrieval degraded to empty context")
	}
	if retrieveErr != nil || len(hits) == 0 {
		res := models.AnswerResult{
			Answer:     FallbackAnswer,
			Sources:    []models.Source{},
			Confidence: "low",
			SessionID:  sessionID,
		}
		if onChunk != nil {
			if err := onChunk(res.Answer); err != nil {
				return models.AnswerResult{}, err
			}
		}
		e.Sessions.AppendExchange(sessionID, question, res.Answer)
		return res, nil
	}

	history := e.Sessions.History(sessionID, e.MaxTurns)
	promptText := e.Prompts.QA(question, contextBlock, history)

	var answer strings.Builder
	streamErr := e.LLM.Stream(ctx, promptText, llm.QAOptions(e.Model), func(chunk string) error {
		answer.WriteString(chunk)
		if onChunk != nil {
			return onChunk(chunk)
		}
		return nil
	})
	if streamErr != nil {
		// Cancellation and deadline propagate as-is so the boundary can
		// tell a gone client from a dead backend. No turn is committed.
		if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
			return models.AnswerResult{}, streamErr
		}
		return models.AnswerResult{}, &EngineError{Fallback: FallbackAnswer, Err: streamErr}
	}

	final := strings.TrimSpace(answer.String())
	if final == "" {
		return models.AnswerResult{}, &EngineError{Fallback: FallbackAnswer, Err: errors.New("empty generation")}
	}

	// Best-effort answer-language normalization: when the model drifted
	// into another language, round-trip through the translator.
	if lang != "" {
		if got, ok := e.Translator.Detect(ctx, final); ok && got != lang {
			if translated, ok := e.Translator.Translate(ctx, final, got, lang); ok {
				final = translated
			}
		}
	}

	e.Sessions.AppendExchange(sessionID, question, final)

	return models.AnswerResult{
		Answer:        final,
		Sources:       projectSources(hits),
		Confidence:    confidence(hits),
		RetrievedDocs: len(hits),
		SessionID:     sessionID,
	}, nil
}

// confidence derives the coarse quality label from the best hit.
func confidence(hits []models.Hit) string {
	max := 0.0
	for _, h := range hits {
		if h.Similarity > max {
			max = h.Similarity
		}
	}
	switch {
	case max >= 0.8:
		return "high"
	case max >= 0.6:
		return "medium"
	default:
		return "low"
	}
}

// projectSources maps the hits that fed the prompt to the response
// attribution, similarity rounded to three decimals.
func projectSources(hits []models.Hit) []models.Source {
	out := make([]models.Source, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.Source{
			Type:       h.Metadata.Type,
			ArticleID:  h.Metadata.ArticleID,
			Title:      h.Metadata.Title,
			App:        h.Metadata.AppName,
			Similarity: math.Round(h.Similarity*1000) / 1000,
		})
	}
	return out
}
