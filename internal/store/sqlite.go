package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/h3ma209/Cora/pkg/models"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteStore persists the collection as a single sqlite-vec database
// file inside the configured directory. This is the default backend:
// the directory is the only persisted state the service owns.
type SQLiteStore struct {
	db   *sql.DB
	path string
	dim  int
}

func sqliteSchema(dim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS records (
    rowid_id      INTEGER PRIMARY KEY,
    record_id     TEXT NOT NULL UNIQUE,
    text          TEXT NOT NULL,
    type          TEXT NOT NULL,
    article_id    TEXT NOT NULL DEFAULT '',
    app_name      TEXT NOT NULL DEFAULT '',
    language      TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL DEFAULT '',
    source_path   TEXT NOT NULL DEFAULT '',
    chunk_ordinal INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS records_language_idx ON records (language);
CREATE INDEX IF NOT EXISTS records_app_idx      ON records (app_name);
CREATE INDEX IF NOT EXISTS records_type_idx     ON records (type);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
    record_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, dim)
}

// NewSQLite opens (or creates) the collection database under dir.
func NewSQLite(dir string, dim int) (*SQLiteStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("mkdir", err)
	}
	path := filepath.Join(dir, CollectionName+".db")

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("ping", err)
	}
	if _, err := db.Exec(sqliteSchema(dim)); err != nil {
		db.Close()
		return nil, storageErr("schema", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLiteStore{db: db, path: path, dim: dim}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Location returns the on-disk path of the collection database.
func (s *SQLiteStore) Location() string { return s.path }

func (s *SQLiteStore) Upsert(ctx context.Context, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("upsert begin", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (record_id, text, type, article_id, app_name, language, title, source_path, chunk_ordinal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id) DO UPDATE SET
				text          = excluded.text,
				type          = excluded.type,
				article_id    = excluded.article_id,
				app_name      = excluded.app_name,
				language      = excluded.language,
				title         = excluded.title,
				source_path   = excluded.source_path,
				chunk_ordinal = excluded.chunk_ordinal
		`, r.ID, r.Text, r.Metadata.Type, r.Metadata.ArticleID, r.Metadata.AppName,
			r.Metadata.Language, r.Metadata.Title, r.Metadata.SourcePath, r.Metadata.ChunkOrdinal)
		if err != nil {
			return storageErr("upsert record", err)
		}

		var rowid int64
		if err := tx.QueryRowContext(ctx, "SELECT rowid_id FROM records WHERE record_id = ?", r.ID).Scan(&rowid); err != nil {
			return storageErr("upsert rowid", err)
		}
		// vec0 tables do not honor INSERT OR REPLACE, so drop any existing
		// vector for this row before inserting the new one.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_records WHERE record_rowid = ?", rowid); err != nil {
			return storageErr("upsert embedding", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vec_records (record_rowid, embedding) VALUES (?, ?)",
			rowid, serializeFloat32(r.Embedding)); err != nil {
			return storageErr("upsert embedding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("upsert commit", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, k int, f Filter) ([]models.Hit, error) {
	if k <= 0 {
		return []models.Hit{}, nil
	}

	// vec0 KNN runs before the metadata join, so over-fetch and trim
	// after filtering to still return up to k matching hits.
	knnK := k
	if f != (Filter{}) {
		knnK = k * 8
	}

	where, args := sqliteFilter(f)
	q := fmt.Sprintf(`
		SELECT r.record_id, r.text, r.type, r.article_id, r.app_name, r.language, r.title, r.source_path, r.chunk_ordinal, v.distance
		FROM vec_records v
		JOIN records r ON r.rowid_id = v.record_rowid
		WHERE v.embedding MATCH ? AND k = ?%s
		ORDER BY v.distance
	`, where)

	qargs := append([]any{serializeFloat32(embedding), knnK}, args...)
	rows, err := s.db.QueryContext(ctx, q, qargs...)
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
		if len(hits) == k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query rows", err)
	}
	return hits, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	for _, stmt := range []string{
		"DELETE FROM vec_records",
		"DELETE FROM records",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("reset", err)
		}
	}
	return nil
}

// sqliteFilter renders the conjunctive metadata predicates.
func sqliteFilter(f Filter) (string, []any) {
	var sb strings.Builder
	var args []any
	if f.Language != "" {
		sb.WriteString(" AND r.language = ?")
		args = append(args, f.Language)
	}
	if f.AppName != "" {
		sb.WriteString(" AND r.app_name = ?")
		args = append(args, f.AppName)
	}
	if f.Type != "" {
		sb.WriteString(" AND r.type = ?")
		args = append(args, f.Type)
	}
	return sb.String(), args
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
