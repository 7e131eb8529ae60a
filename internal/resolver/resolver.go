// Package resolver expands note-path templates from document path attributes.
package resolver

import (
	"path"
	"strings"
)

// Template placeholders. Matched literally, case-sensitive, all occurrences.
const (
	PlaceholderFilename   = "{{pdf_filename}}"
	PlaceholderBasename   = "{{pdf_basename}}"
	PlaceholderFolderPath = "{{pdf_folder_path}}"
	PlaceholderParentName = "{{pdf_parent_folder_name}}"
)

// Resolve expands template against the attributes of documentPath and
// returns the vault-relative note path. ok is false when the result is
// degenerate (empty, or not a .md path); callers treat that as "no
// associated note", never as an error.
//
// Resolve is pure: no I/O, deterministic for a given (documentPath, template).
func Resolve(documentPath, template string) (notePath string, ok bool) {
	doc := strings.ReplaceAll(documentPath, "\\", "/")

	filename := path.Base(doc)
	basename := strings.TrimSuffix(filename, path.Ext(filename))

	folder := path.Dir(doc)
	if folder == "." || folder == "/" {
		folder = ""
	}
	parent := ""
	if folder != "" {
		parent = path.Base(folder)
	}

	out := strings.NewReplacer(
		PlaceholderFilename, filename,
		PlaceholderBasename, basename,
		PlaceholderFolderPath, folder,
		PlaceholderParentName, parent,
	).Replace(template)

	// A template with no folder component names a sibling of the document.
	if out != "" && !strings.Contains(out, "/") && folder != "" {
		out = folder + "/" + out
	}

	// Collapse repeated separators left behind by empty attributes.
	for strings.Contains(out, "//") {
		out = strings.ReplaceAll(out, "//", "/")
	}
	// Note paths are vault-relative.
	out = strings.TrimPrefix(out, "/")

	if out == "" || !strings.HasSuffix(out, ".md") || path.Base(out) == ".md" {
		return "", false
	}
	return out, true
}
