package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/h3ma209/Cora/internal/classify"
	"github.com/h3ma209/Cora/internal/config"
	"github.com/h3ma209/Cora/internal/engine"
	"github.com/h3ma209/Cora/internal/llm"
	"github.com/h3ma209/Cora/internal/prompt"
	"github.com/h3ma209/Cora/internal/retrieve"
	"github.com/h3ma209/Cora/internal/server"
	"github.com/h3ma209/Cora/internal/session"
	"github.com/h3ma209/Cora/internal/store"
	"github.com/h3ma209/Cora/internal/translate"
)

const version = "1.0.0"

func main() {
	fs := pflag.NewFlagSet("cora-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("llm_provider", cfg.LLMProvider).Str("vector_backend", cfg.VectorBackend).Str("log_level", cfg.LogLevel).Msg("starting cora api")

	ctx := context.Background()

	client, err := llm.NewClient(ctx, &llm.ClientConfig{
		Provider:   llm.Provider(cfg.LLMProvider),
		Host:       cfg.OllamaHost,
		Model:      cfg.ModelName,
		EmbedModel: cfg.EmbedModel,
		APIKey:     cfg.GeminiAPIKey,
		ProjectID:  cfg.GeminiProjectID,
		Location:   cfg.GeminiLocation,
		Dim:        cfg.EmbedDim,
	})
	if err != nil {
		log.Fatalf("Failed to create model client: %v", err)
	}
	logger.Info().Int("embedding_dim", client.Dim()).Str("model", cfg.ModelName).Msg("model client initialized")

	st, err := store.New(ctx, store.Config{
		Backend:     store.Backend(cfg.VectorBackend),
		Path:        cfg.ChromaPath,
		DatabaseURL: cfg.DatabaseURL,
		Dim:         client.Dim(),
	})
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}
	defer st.Close()

	sessions := session.NewManager(time.Duration(cfg.SessionTTLSeconds) * time.Second)
	prompts := prompt.New(cfg.MaxTurns)
	retriever := retrieve.New(client, st)
	translator := translate.New(cfg.TranslatorAPIURL, translate.DefaultTimeout)

	eng := &engine.Engine{
		Retriever:  retriever,
		Sessions:   sessions,
		Prompts:    prompts,
		LLM:        client,
		Translator: translator,
		Model:      cfg.ModelName,
		MaxTurns:   cfg.MaxTurns,
	}
	cls := &classify.Classifier{
		Retriever: retriever,
		Prompts:   prompts,
		LLM:       client,
		Model:     cfg.ModelName,
	}

	// Lazy sweeping on access covers the common path; this keeps idle
	// processes from holding dead sessions.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-t.C:
				if n := sessions.Sweep(); n > 0 {
					logger.Debug().Int("expired", n).Msg("session sweep")
				}
			}
		}
	}()

	srv := &server.Server{Engine: eng, Classifier: cls, Version: version}
	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(srv.Routes()),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}

	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}
