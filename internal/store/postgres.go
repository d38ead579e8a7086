package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/h3ma209/Cora/pkg/models"
)

// PostgresStore is the pgvector-backed alternative for deployments
// that already run Postgres. Same contract as the sqlite backend; the
// persisted state moves from a local directory to the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and ensures the collection schema exists.
func NewPostgres(ctx context.Context, url string, dim int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, storageErr("parse dsn", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storageErr("connect", err)
	}
	s := &PostgresStore{pool: p}
	if err := s.migrate(ctx, dim); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %s (
  record_id     TEXT PRIMARY KEY,
  text          TEXT NOT NULL,
  type          TEXT NOT NULL,
  article_id    TEXT NOT NULL DEFAULT '',
  app_name      TEXT NOT NULL DEFAULT '',
  language      TEXT NOT NULL DEFAULT '',
  title         TEXT NOT NULL DEFAULT '',
  source_path   TEXT NOT NULL DEFAULT '',
  chunk_ordinal INT  NOT NULL DEFAULT 0,
  embedding     vector(%d),
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[1]s_language_idx ON %[1]s (language);
CREATE INDEX IF NOT EXISTS %[1]s_app_idx      ON %[1]s (app_name);
CREATE INDEX IF NOT EXISTS %[1]s_type_idx     ON %[1]s (type);

CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx
  ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, CollectionName, dim))
	return storageErr("migrate", err)
}

func (s *PostgresStore) Upsert(ctx context.Context, records []models.Record) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (record_id, text, type, article_id, app_name, language, title, source_path, chunk_ordinal, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (record_id) DO UPDATE SET
			text          = EXCLUDED.text,
			type          = EXCLUDED.type,
			article_id    = EXCLUDED.article_id,
			app_name      = EXCLUDED.app_name,
			language      = EXCLUDED.language,
			title         = EXCLUDED.title,
			source_path   = EXCLUDED.source_path,
			chunk_ordinal = EXCLUDED.chunk_ordinal,
			embedding     = EXCLUDED.embedding`, CollectionName)

	for _, r := range records {
		_, err := s.pool.Exec(ctx, q,
			r.ID, r.Text, r.Metadata.Type, r.Metadata.ArticleID, r.Metadata.AppName,
			r.Metadata.Language, r.Metadata.Title, r.Metadata.SourcePath, r.Metadata.ChunkOrdinal,
			pgvector.NewVector(r.Embedding))
		if err != nil {
			return storageErr("upsert", err)
		}
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, embedding []float32, k int, f Filter) ([]models.Hit, error) {
	if k <= 0 {
		return []models.Hit{}, nil
	}

	args := []any{pgvector.NewVector(embedding)}
	var where strings.Builder
	where.WriteString("TRUE")
	n := 2
	add := func(col, val string) {
		where.WriteString(fmt.Sprintf(" AND %s = $%d", col, n))
		args = append(args, val)
		n++
	}
	if f.Language != "" {
		add("language", f.Language)
	}
	if f.AppName != "" {
		add("app_name", f.AppName)
	}
	if f.Type != "" {
		add("type", f.Type)
	}

	q := fmt.Sprintf(`
		SELECT record_id, text, type, article_id, app_name, language, title, source_path, chunk_ordinal,
		       embedding <=> $1 AS distance
		FROM %s
		WHERE %s
		ORDER BY distance
		LIMIT %d`, CollectionName, where.String(), k)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	var hits []models.Hit
	for rows.Next() {
		var h models.Hit
		if err := rows.Scan(&h.ID, &h.Text, &h.Metadata.Type, &h.Metadata.ArticleID,
			&h.Metadata.AppName, &h.Metadata.Language, &h.Metadata.Title,
			&h.Metadata.SourcePath, &h.Metadata.ChunkOrdinal, &h.Distance); err != nil {
			return nil, storageErr("query scan", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query rows", err)
	}
	return hits, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", CollectionName)).Scan(&n)
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", CollectionName))
	return storageErr("reset", err)
}
