// Package models defines the domain types for Pagemark.
package models

import "time"

// PageUnknown marks a view that has not reported a page yet (document not
// rendered). Stored pages are always >= 0.
const PageUnknown = -1

// Position is the durable reading position of one document.
// The note's front matter is the source of truth; this row mirrors it in the
// reading-history index.
type Position struct {
	DocumentPath string    `json:"document_path"`
	NotePath     string    `json:"note_path"`
	Page         int       `json:"page"`
	SaveCount    int       `json:"save_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// View is a snapshot of one tracked document view.
type View struct {
	ID            string    `json:"id"`
	DocumentPath  string    `json:"document_path"`
	NotePath      string    `json:"note_path,omitempty"`
	Page          int       `json:"page"`
	LastSavedPage int       `json:"last_saved_page"`
	OpenedAt      time.Time `json:"opened_at"`
}

// NoteMetadata is a lightweight representation returned by vault listings.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
