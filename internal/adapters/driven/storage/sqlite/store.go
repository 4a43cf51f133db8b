// Package sqlite provides the SQLite-backed document store.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/refrab/refrab/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.DocumentStore = (*Store)(nil)

// Store is the SQLite-backed mirror of library documents, their
// extracted text and chunks with embeddings.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a store at the specified data directory.
// If dataDir is empty, defaults to ~/.refrab/data/library.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".refrab", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "library.db")

	// WAL mode for concurrent readers during a pipeline run.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g. "001_initial.up.sql" -> 1).
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// SaveDocument stores or updates the local mirror of a library item.
func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	authorsJSON, err := json.Marshal(doc.Authors)
	if err != nil {
		return fmt.Errorf("marshalling authors: %w", err)
	}
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, authors, year, tags, last_error, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			authors = excluded.authors,
			year = excluded.year,
			tags = excluded.tags,
			added_at = excluded.added_at,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Title, string(authorsJSON), doc.Year, string(tagsJSON),
		doc.LastError, doc.AddedAt, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a mirrored document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, authors, year, tags, last_error, added_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return doc, err
}

// ListDocuments returns all mirrored documents.
func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, authors, year, tags, last_error, added_at
		FROM documents ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// SaveExtractedText stores the extraction result, superseding any
// previous one for the document.
func (s *Store) SaveExtractedText(ctx context.Context, et *domain.ExtractedText) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extracted_texts (document_id, text, engine, confident, chars_per_page, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			text = excluded.text,
			engine = excluded.engine,
			confident = excluded.confident,
			chars_per_page = excluded.chars_per_page,
			created_at = excluded.created_at
	`, et.DocumentID, et.Text, et.Engine, et.Confident, et.CharsPerPage, et.CreatedAt)

	if err != nil {
		return fmt.Errorf("saving extracted text: %w", err)
	}
	return nil
}

// GetExtractedText retrieves the current extraction for a document.
func (s *Store) GetExtractedText(ctx context.Context, documentID string) (*domain.ExtractedText, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document_id, text, engine, confident, chars_per_page, created_at
		FROM extracted_texts WHERE document_id = ?
	`, documentID)

	var et domain.ExtractedText
	var createdAt sql.NullTime
	if err := row.Scan(&et.DocumentID, &et.Text, &et.Engine, &et.Confident, &et.CharsPerPage, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning extracted text: %w", err)
	}
	if createdAt.Valid {
		et.CreatedAt = createdAt.Time
	}
	return &et, nil
}

// ReplaceChunks deletes all chunks for the document and writes the new
// set with their embeddings in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: %d chunks but %d embeddings", domain.ErrInvalidInput, len(chunks), len(embeddings))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, position, start_offset, end_offset, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx, chunk.ID, documentID, chunk.Position,
			chunk.Start, chunk.End, chunk.Text, float32SliceToBytes(embeddings[i])); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetChunk retrieves a single chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, position, start_offset, end_offset, text
		FROM chunks WHERE id = ?
	`, id)

	var chunk domain.Chunk
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Position,
		&chunk.Start, &chunk.End, &chunk.Text); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	return &chunk, nil
}

// LoadAllChunks streams every stored chunk with its embedding in
// (document_id, position) order.
func (s *Store) LoadAllChunks(ctx context.Context, fn func(chunk domain.Chunk, embedding []float32) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, position, start_offset, end_offset, text, embedding
		FROM chunks ORDER BY document_id, position
	`)
	if err != nil {
		return fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chunk domain.Chunk
		var blob []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Position,
			&chunk.Start, &chunk.End, &chunk.Text, &blob); err != nil {
			return fmt.Errorf("scanning chunk: %w", err)
		}
		if err := fn(chunk, bytesToFloat32Slice(blob)); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating chunks: %w", err)
	}
	return nil
}

// RecordError stores the last processing failure message for a document.
func (s *Store) RecordError(ctx context.Context, documentID, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET last_error = ?, updated_at = ? WHERE id = ?
	`, message, time.Now().UTC(), documentID)
	if err != nil {
		return fmt.Errorf("recording error: %w", err)
	}

	// The failure may precede the first SaveDocument; keep the message
	// anyway so status can report it.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO documents (id, title, last_error, updated_at) VALUES (?, '', ?, ?)
		`, documentID, message, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("recording error for unknown document: %w", err)
		}
	}
	return nil
}

// scanDocument scans a document row through the given scan function.
func scanDocument(scan func(dest ...any) error) (*domain.Document, error) {
	var doc domain.Document
	var authorsJSON, tagsJSON string
	var addedAt sql.NullTime

	if err := scan(&doc.ID, &doc.Title, &authorsJSON, &doc.Year, &tagsJSON,
		&doc.LastError, &addedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	if err := json.Unmarshal([]byte(authorsJSON), &doc.Authors); err != nil {
		return nil, fmt.Errorf("unmarshaling authors: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	if addedAt.Valid {
		doc.AddedAt = addedAt.Time
	}
	return &doc, nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
