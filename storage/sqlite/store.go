// Package sqlite provides a SQLite implementation of the notesync
// DocumentStore, including the optional BaseStore capability so base
// snapshots survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	notesync "github.com/c0deZ3R0/go-note-sync"
	syncErrors "github.com/c0deZ3R0/go-note-sync/errors"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opGet         = "sqlite.Get"
	opPut         = "sqlite.Put"
	opDelete      = "sqlite.Delete"
	opListPending = "sqlite.ListPending"
	opGetBase     = "sqlite.GetBase"
	opPutBase     = "sqlite.PutBase"
	opDeleteBase  = "sqlite.DeleteBase"
	opInit        = "sqlite.New"
)

const storeComponent = syncErrors.Component("storage/sqlite")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

var (
	_ notesync.DocumentStore = (*Store)(nil)
	_ notesync.BaseStore     = (*Store)(nil)
)

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:notes.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings. Defaults: MaxOpen=25, MaxIdle=5,
	// Lifetime=1h, IdleTime=5m.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			sep := "?"
			if strings.Contains(c.DataSourceName, "?") {
				sep = "&"
			}
			c.DataSourceName += sep + "_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) Config {
	return Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
}

// Store is a SQLite-backed DocumentStore and BaseStore.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// New opens the database and ensures the schema exists.
func New(config Config) (*Store, error) {
	config.setDefaults()

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opInit, storeComponent, syncErrors.KindStorage)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		status     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS document_bases (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return syncErrors.WrapOpComponentKind(err, opInit, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

func (s *Store) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get implements notesync.DocumentStore.
func (s *Store) Get(ctx context.Context, id string) (notesync.Document, error) {
	if err := s.guard(); err != nil {
		return notesync.Document{}, syncErrors.WrapOpComponentKind(err, opGet, storeComponent, syncErrors.KindStorage)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, tags, created_at, updated_at, status
		 FROM documents WHERE id = ?`, id)

	doc, status, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notesync.Document{}, notesync.ErrNotFound
		}
		return notesync.Document{}, syncErrors.WrapOpComponentKind(err, opGet, storeComponent, syncErrors.KindStorage)
	}
	doc.Status = notesync.SyncStatus(status)
	return doc, nil
}

// Put implements notesync.DocumentStore.
func (s *Store) Put(ctx context.Context, doc notesync.Document) error {
	if err := s.guard(); err != nil {
		return syncErrors.WrapOpComponentKind(err, opPut, storeComponent, syncErrors.KindStorage)
	}

	tags, err := json.Marshal(notesync.NormalizeTags(doc.Tags))
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opPut, storeComponent, syncErrors.KindValidation)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, tags, created_at, updated_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			tags = excluded.tags,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			status = excluded.status`,
		doc.ID, doc.Title, doc.Content, string(tags),
		doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(doc.Status))
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opPut, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// Delete implements notesync.DocumentStore. Deleting a missing document is
// not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return syncErrors.WrapOpComponentKind(err, opDelete, storeComponent, syncErrors.KindStorage)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return syncErrors.WrapOpComponentKind(err, opDelete, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// ListPending implements notesync.DocumentStore.
func (s *Store) ListPending(ctx context.Context) ([]notesync.Document, error) {
	if err := s.guard(); err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opListPending, storeComponent, syncErrors.KindStorage)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, tags, created_at, updated_at, status
		 FROM documents WHERE status = ? ORDER BY updated_at`, string(notesync.StatusPending))
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opListPending, storeComponent, syncErrors.KindStorage)
	}
	defer rows.Close()

	var docs []notesync.Document
	for rows.Next() {
		doc, status, err := scanDocument(rows)
		if err != nil {
			return nil, syncErrors.WrapOpComponentKind(err, opListPending, storeComponent, syncErrors.KindStorage)
		}
		doc.Status = notesync.SyncStatus(status)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opListPending, storeComponent, syncErrors.KindStorage)
	}
	return docs, nil
}

// GetBase implements notesync.BaseStore.
func (s *Store) GetBase(ctx context.Context, id string) (notesync.Document, error) {
	if err := s.guard(); err != nil {
		return notesync.Document{}, syncErrors.WrapOpComponentKind(err, opGetBase, storeComponent, syncErrors.KindStorage)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, tags, created_at, updated_at, '' AS status
		 FROM document_bases WHERE id = ?`, id)

	doc, _, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notesync.Document{}, notesync.ErrNotFound
		}
		return notesync.Document{}, syncErrors.WrapOpComponentKind(err, opGetBase, storeComponent, syncErrors.KindStorage)
	}
	return doc, nil
}

// PutBase implements notesync.BaseStore.
func (s *Store) PutBase(ctx context.Context, doc notesync.Document) error {
	if err := s.guard(); err != nil {
		return syncErrors.WrapOpComponentKind(err, opPutBase, storeComponent, syncErrors.KindStorage)
	}

	tags, err := json.Marshal(notesync.NormalizeTags(doc.Tags))
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opPutBase, storeComponent, syncErrors.KindValidation)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_bases (id, title, content, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			tags = excluded.tags,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Content, string(tags),
		doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opPutBase, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// DeleteBase implements notesync.BaseStore.
func (s *Store) DeleteBase(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return syncErrors.WrapOpComponentKind(err, opDeleteBase, storeComponent, syncErrors.KindStorage)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_bases WHERE id = ?`, id); err != nil {
		return syncErrors.WrapOpComponentKind(err, opDeleteBase, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// Close closes the underlying database. Further operations fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (notesync.Document, string, error) {
	var (
		doc       notesync.Document
		tagsJSON  string
		createdAt string
		updatedAt string
		status    string
	)
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &tagsJSON, &createdAt, &updatedAt, &status); err != nil {
		return notesync.Document{}, "", err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return notesync.Document{}, "", fmt.Errorf("decode tags for %s: %w", doc.ID, err)
	}
	var err error
	if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return notesync.Document{}, "", fmt.Errorf("parse created_at for %s: %w", doc.ID, err)
	}
	if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return notesync.Document{}, "", fmt.Errorf("parse updated_at for %s: %w", doc.ID, err)
	}
	return doc, status, nil
}
