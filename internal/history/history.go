// Package history provides the SQLite-backed reading-history index.
// The note front matter remains the source of truth for positions; this
// index mirrors it to serve listings and note-to-document lookups.
package history

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/pagemark/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS positions (
	document_path TEXT PRIMARY KEY,
	note_path     TEXT NOT NULL DEFAULT '',
	page          INTEGER NOT NULL DEFAULT 0,
	save_count    INTEGER NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_positions_note ON positions(note_path);
`

// DB wraps a sql.DB with history-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PositionIndex defines the interface for reading-history operations.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type PositionIndex interface {
	RecordSave(doc, note string, page int) error
	RefreshPage(doc string, page int) error
	Get(doc string) (*models.Position, error)
	Recent(limit, offset int) ([]models.Position, int, error)
	All() ([]models.Position, error)
	Delete(doc string) error
	Rename(oldDoc, newDoc string) error
	SetNotePath(doc, note string) error
	DocumentsForNote(note string) ([]string, error)
	Search(query string, limit int) ([]models.Position, error)
	Close() error
}

// Verify *DB satisfies PositionIndex at compile time.
var _ PositionIndex = (*DB)(nil)
