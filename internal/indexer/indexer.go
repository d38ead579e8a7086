package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/h3ma209/Cora/internal/store"
	"github.com/h3ma209/Cora/pkg/models"
)

// FileSystemWalker defines the interface for walking the source tree.
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading source files.
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk.
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os.
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Embedder is the slice of the model client the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ItemError records a per-item parse failure. A malformed article or
// unreadable document never fails the run.
type ItemError struct {
	Path string
	Err  error
}

// Summary reports what an index run did.
type Summary struct {
	FilesSeen      int
	ArticleRecords int
	ChunkRecords   int
	RecordsWritten int
	Errors         []ItemError
}

// Indexer walks a knowledge root, turns structured articles and long
// documents into records, and batch-upserts them through the store.
type Indexer struct {
	Store        store.VectorStore
	Embedder     Embedder
	Root         string
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Walker       FileSystemWalker
	FileReader   FileReader
	// ExtractPages is swapped in tests; defaults to PDF extraction.
	ExtractPages func(path string) ([]pageText, error)
}

// New creates an Indexer with default dependencies.
func New(s store.VectorStore, e Embedder, root string) *Indexer {
	return &Indexer{
		Store:        s,
		Embedder:     e,
		Root:         root,
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		BatchSize:    store.DefaultBatchSize,
		Walker:       &DefaultFileSystemWalker{},
		FileReader:   &DefaultFileReader{},
		ExtractPages: extractPDFPages,
	}
}

// Run walks the tree in sorted order, so batch boundaries and upsert
// order are deterministic for a given source tree.
func (ix *Indexer) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	var pending []models.Record

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		texts := make([]string, len(pending))
		for i, r := range pending {
			texts[i] = r.Text
		}
		vecs, err := ix.Embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		for i := range pending {
			pending[i].Embedding = vecs[i]
		}
		if err := ix.Store.Upsert(ctx, pending); err != nil {
			return err
		}
		sum.RecordsWritten += len(pending)
		log.Debug().Int("records", len(pending)).Msg("batch committed")
		pending = pending[:0]
		return nil
	}

	var runErr error
	walkErr := ix.Walker.Walk(ix.Root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			records, kind, err := ix.processFile(path)
			if kind == "" {
				return nil
			}
			sum.FilesSeen++
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping unparseable item")
				sum.Errors = append(sum.Errors, ItemError{Path: path, Err: err})
				return nil
			}
			if kind == "article" {
				sum.ArticleRecords += len(records)
			} else {
				sum.ChunkRecords += len(records)
			}

			for _, r := range records {
				pending = append(pending, r)
				if len(pending) >= ix.BatchSize {
					if err := flush(); err != nil {
						runErr = err
						return err
					}
				}
			}
			return nil
		},
	})
	if runErr != nil {
		return sum, runErr
	}
	if walkErr != nil {
		return sum, walkErr
	}
	if err := flush(); err != nil {
		return sum, err
	}

	log.Info().
		Int("files", sum.FilesSeen).
		Int("article_records", sum.ArticleRecords).
		Int("chunk_records", sum.ChunkRecords).
		Int("written", sum.RecordsWritten).
		Int("errors", len(sum.Errors)).
		Msg("index run complete")
	return sum, nil
}

// processFile turns one source file into records. The second return
// names the source kind ("article" | "pdf") or "" for files the
// indexer does not handle.
func (ix *Indexer) processFile(path string) ([]models.Record, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := ix.FileReader.ReadFile(path)
		if err != nil {
			return nil, "article", err
		}
		articles, err := parseArticles(data)
		if err != nil {
			return nil, "article", err
		}
		var records []models.Record
		for _, a := range articles {
			if strings.TrimSpace(a.ArticleID) == "" {
				return records, "article", fmt.Errorf("article without article_id in %s", path)
			}
			records = append(records, articleRecords(a)...)
		}
		return records, "article", nil

	case ".pdf":
		pages, err := ix.ExtractPages(path)
		if err != nil {
			return nil, "pdf", err
		}
		rel := ix.relPath(path)
		chunks := chunkPages(pages, ix.ChunkSize, ix.ChunkOverlap)
		records := make([]models.Record, 0, len(chunks))
		for _, ch := range chunks {
			lang := detectScript(ch.Text)
			records = append(records, models.Record{
				ID:   RecordID("pdf", rel, lang, ch.Ordinal),
				Text: ch.Text,
				Metadata: models.Metadata{
					Type:         "pdf",
					Language:     lang,
					SourcePath:   rel,
					ChunkOrdinal: ch.Ordinal,
					Title:        fmt.Sprintf("%s (pages %d-%d)", filepath.Base(rel), ch.PageStart, ch.PageEnd),
				},
			})
		}
		return records, "pdf", nil
	}
	return nil, "", nil
}

func (ix *Indexer) relPath(p string) string {
	r, err := filepath.Rel(ix.Root, p)
	if err != nil {
		return p
	}
	return r
}
