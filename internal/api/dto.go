package api

// OpenViewRequest is the body of POST /api/views.
type OpenViewRequest struct {
	ID           string `json:"id"`
	DocumentPath string `json:"document_path"`
	Page         int    `json:"page"`
}

// ReportPageRequest is the body of PUT /api/views/{id}/page.
type ReportPageRequest struct {
	Page int `json:"page"`
}

// RenameRequest is the body of POST /api/positions/rename.
type RenameRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}
