package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"localrag/internal/models"
)

// SQLiteStore persists a vector store in a single SQLite database file.
// Writes run inside one transaction, so an interrupted save leaves the
// prior valid store readable.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the store database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector store %s: %w", path, err)
	}
	if err := (Migrator{}).Up(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate vector store %s: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Meta(ctx context.Context) (Meta, error) {
	var m Meta
	err := s.db.QueryRowContext(ctx, `SELECT model, dim FROM meta WHERE id=1`).Scan(&m.Model, &m.Dim)
	if err == sql.ErrNoRows {
		return Meta{}, nil
	}
	if err != nil {
		return Meta{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&m.Documents); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func (s *SQLiteStore) Sources(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		out[src] = struct{}{}
	}
	return out, rows.Err()
}

// Add stores entries in one transaction. The first add records the embedding
// model and dimension; later adds must match them.
func (s *SQLiteStore) Add(ctx context.Context, model string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Vector)
	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("vector dimension mismatch: %d != %d", len(e.Vector), dim)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var metaModel string
	var metaDim int
	now := time.Now().UTC().Format(time.RFC3339)
	err = tx.QueryRowContext(ctx, `SELECT model, dim FROM meta WHERE id=1`).Scan(&metaModel, &metaDim)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(id, model, dim, created_at) VALUES(1,?,?,?)`, model, dim, now); err != nil {
			return err
		}
	case err != nil:
		return err
	case metaModel != model || metaDim != dim:
		return fmt.Errorf("store built with model %s (dim %d), got model %s (dim %d)", metaModel, metaDim, model, dim)
	}

	for _, e := range entries {
		meta, _ := json.Marshal(e.Doc.Metadata)
		vec, err := json.Marshal(e.Vector)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents(source, content, metadata, created_at) VALUES(?,?,?,?)
             ON CONFLICT(source) DO UPDATE SET content=excluded.content, metadata=excluded.metadata`,
			e.Doc.SourceID, e.Doc.Content, string(meta), now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings(doc_id, dim, vector) VALUES((SELECT id FROM documents WHERE source=?),?,?)
             ON CONFLICT(doc_id) DO UPDATE SET dim=excluded.dim, vector=excluded.vector`,
			e.Doc.SourceID, dim, string(vec)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search scans all stored vectors and returns the k best cosine matches.
// Rows whose stored vector does not match the query dimension are skipped.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.source, d.content, d.metadata, e.vector
         FROM documents d JOIN embeddings e ON e.doc_id = d.id
         WHERE e.dim = ?`, len(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []Result
	for rows.Next() {
		var source, content, metaStr, vecStr string
		if err := rows.Scan(&source, &content, &metaStr, &vecStr); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecStr), &vec); err != nil || len(vec) != len(query) {
			continue
		}
		var meta map[string]string
		_ = json.Unmarshal([]byte(metaStr), &meta)
		results = append(results, Result{
			Doc:   models.Document{Content: content, SourceID: source, Metadata: meta},
			Score: cosine(query, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(results, k), nil
}

// Reset clears all content, keeping the file and schema in place.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{`DELETE FROM embeddings`, `DELETE FROM documents`, `DELETE FROM meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
