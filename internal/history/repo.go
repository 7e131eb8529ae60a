package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/pagemark/internal/apperr"
	"github.com/starford/pagemark/internal/models"
)

// RecordSave upserts the position for a document after a successful
// front-matter write, bumping its save counter.
func (db *DB) RecordSave(doc, note string, page int) error {
	_, err := db.conn.Exec(`
		INSERT INTO positions (document_path, note_path, page, save_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(document_path) DO UPDATE SET
			note_path  = excluded.note_path,
			page       = excluded.page,
			save_count = save_count + 1,
			updated_at = excluded.updated_at
	`, doc, note, page, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("history: record save: %w", err)
	}
	return nil
}

// RefreshPage updates the mirrored page for a document without counting it
// as a save. Used when the note changed outside the daemon.
func (db *DB) RefreshPage(doc string, page int) error {
	_, err := db.conn.Exec(`
		UPDATE positions SET page = ?, updated_at = ? WHERE document_path = ?
	`, page, time.Now().UTC(), doc)
	if err != nil {
		return fmt.Errorf("history: refresh page: %w", err)
	}
	return nil
}

// Get returns the position for a document, or apperr.ErrNotFound.
func (db *DB) Get(doc string) (*models.Position, error) {
	row := db.conn.QueryRow(`
		SELECT document_path, note_path, page, save_count, updated_at
		FROM positions WHERE document_path = ?
	`, doc)
	var p models.Position
	err := row.Scan(&p.DocumentPath, &p.NotePath, &p.Page, &p.SaveCount, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get: %w", err)
	}
	return &p, nil
}

// Recent returns positions ordered by last update, newest first, with the
// total row count for pagination.
func (db *DB) Recent(limit, offset int) ([]models.Position, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("history: count: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT document_path, note_path, page, save_count, updated_at
		FROM positions ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	out, err := scanPositions(rows)
	return out, total, err
}

// All returns every position row. Used by startup reconciliation.
func (db *DB) All() ([]models.Position, error) {
	rows, err := db.conn.Query(`
		SELECT document_path, note_path, page, save_count, updated_at FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("history: all: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// Delete removes the position for a document.
func (db *DB) Delete(doc string) error {
	if _, err := db.conn.Exec(`DELETE FROM positions WHERE document_path = ?`, doc); err != nil {
		return fmt.Errorf("history: delete: %w", err)
	}
	return nil
}

// Rename moves a position row to a new document path.
func (db *DB) Rename(oldDoc, newDoc string) error {
	res, err := db.conn.Exec(`
		UPDATE positions SET document_path = ?, updated_at = ? WHERE document_path = ?
	`, newDoc, time.Now().UTC(), oldDoc)
	if err != nil {
		return fmt.Errorf("history: rename: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetNotePath points a document's position at a different note. Used when
// the note is moved on disk to follow a renamed document.
func (db *DB) SetNotePath(doc, note string) error {
	_, err := db.conn.Exec(`
		UPDATE positions SET note_path = ?, updated_at = ? WHERE document_path = ?
	`, note, time.Now().UTC(), doc)
	if err != nil {
		return fmt.Errorf("history: set note path: %w", err)
	}
	return nil
}

// DocumentsForNote returns every document whose position lives in the given note.
func (db *DB) DocumentsForNote(note string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT document_path FROM positions WHERE note_path = ?`, note)
	if err != nil {
		return nil, fmt.Errorf("history: documents for note: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Search performs a LIKE-based search over document and note paths.
func (db *DB) Search(query string, limit int) ([]models.Position, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT document_path, note_path, page, save_count, updated_at
		FROM positions
		WHERE document_path LIKE ? OR note_path LIKE ?
		ORDER BY updated_at DESC LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]models.Position, error) {
	var out []models.Position
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.DocumentPath, &p.NotePath, &p.Page, &p.SaveCount, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
