package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/h3ma209/Cora/internal/config"
	"github.com/h3ma209/Cora/internal/indexer"
	"github.com/h3ma209/Cora/internal/llm"
	"github.com/h3ma209/Cora/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("cora-indexer", pflag.ExitOnError)
	reset := fs.Bool("reset", false, "Destroy the collection before indexing")
	stats := fs.Bool("stats", false, "Print record count and store location, change nothing")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

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

	if *stats {
		n, err := st.Count(ctx)
		if err != nil {
			log.Fatalf("Failed to count records: %v", err)
		}
		location := cfg.ChromaPath
		if sq, ok := st.(*store.SQLiteStore); ok {
			location = sq.Location()
		} else if cfg.VectorBackend == "postgres" {
			location = cfg.DatabaseURL
		}
		fmt.Printf("collection: %s\nrecords:    %d\nlocation:   %s\n", store.CollectionName, n, location)
		return
	}

	if *reset {
		zlog.Warn().Msg("resetting collection before reindex")
		if err := st.Reset(ctx); err != nil {
			log.Fatalf("Failed to reset collection: %v", err)
		}
	}

	ix := indexer.New(st, client, cfg.KnowledgeRoot)
	ix.ChunkSize = cfg.ChunkSize
	ix.ChunkOverlap = cfg.ChunkOverlap

	sum, err := ix.Run(ctx)
	if err != nil {
		log.Fatalf("Index run failed: %v", err)
	}
	for _, e := range sum.Errors {
		zlog.Warn().Str("path", e.Path).Err(e.Err).Msg("item skipped")
	}

	n, err := st.Count(ctx)
	if err != nil {
		log.Fatalf("Failed to count records: %v", err)
	}
	fmt.Printf("indexed %d records (%d article, %d chunk), %d item errors, collection now holds %d\n",
		sum.RecordsWritten, sum.ArticleRecords, sum.ChunkRecords, len(sum.Errors), n)
}
