package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/h3ma209/Cora/pkg/models"
)

// CollectionName is the fixed name of the persisted vector collection.
const CollectionName = "rayied_knowledge_base"

// DefaultBatchSize is the maximum number of records submitted to the
// underlying engine per upsert call.
const DefaultBatchSize = 64

// VectorStore is the uniform contract over the embedding+ANN engine.
// Record identities collide iff their identity tuples are equal, so a
// re-index of unchanged source is a no-op observable only through an
// unchanged Count.
type VectorStore interface {
	// Upsert inserts or replaces records by ID. Callers batch at
	// DefaultBatchSize; Upsert itself accepts any slice length.
	Upsert(ctx context.Context, records []models.Record) error
	// Query returns up to k hits ordered by ascending engine distance,
	// restricted to records matching every set field of the filter.
	Query(ctx context.Context, embedding []float32, k int, f Filter) ([]models.Hit, error)
	Count(ctx context.Context) (int, error)
	// Reset destroys the collection.
	Reset(ctx context.Context) error
	Close() error
}

// Filter is a conjunction of metadata equality predicates. Zero-value
// fields are ignored.
type Filter struct {
	Language string
	AppName  string
	Type     string
}

// Backend selects a VectorStore implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config holds everything needed to open a store.
type Config struct {
	Backend Backend
	// Path is the directory holding the sqlite collection.
	Path string
	// DatabaseURL is the Postgres DSN for the pgvector backend.
	DatabaseURL string
	// Dim is the embedding dimensionality the collection is created with.
	Dim int
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config) (VectorStore, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLite(cfg.Path, cfg.Dim)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.Dim)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}

// StorageError wraps any failure of the underlying engine. Callers do
// not retry inside the adapter.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
