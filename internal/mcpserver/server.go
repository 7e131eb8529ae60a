// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes reading-position tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/pagemark/internal/frontmatter"
	"github.com/starford/pagemark/internal/history"
	"github.com/starford/pagemark/internal/resolver"
	"github.com/starford/pagemark/internal/storage"
	"github.com/starford/pagemark/internal/track"
)

// Server wraps the MCP server with Pagemark tools.
type Server struct {
	mcp      *server.MCPServer
	store    storage.Provider
	fm       *frontmatter.Store
	hist     history.PositionIndex
	settings track.Settings
}

// New creates a new MCP server with all Pagemark tools registered.
func New(store storage.Provider, fm *frontmatter.Store, hist history.PositionIndex, settings track.Settings) *Server {
	s := &Server{store: store, fm: fm, hist: hist, settings: settings}

	s.mcp = server.NewMCPServer(
		"Pagemark",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_position",
		mcp.WithDescription("Get the stored reading position of a PDF document. "+
			"Reads the front matter of the associated note, falling back to the history index."),
		mcp.WithString("document_path", mcp.Required(), mcp.Description("Path of the PDF document (e.g. Research/Papers/Smith 2024.pdf)")),
	), s.getPosition)

	s.mcp.AddTool(mcp.NewTool("set_position",
		mcp.WithDescription("Store the reading position of a PDF document into the front matter "+
			"of its associated note. Pages are 0-indexed; read the contract first via the "+
			"get_position_contract tool or the pagemark://position-format resource."),
		mcp.WithString("document_path", mcp.Required(), mcp.Description("Path of the PDF document")),
		mcp.WithNumber("page", mcp.Required(), mcp.Description("0-indexed page number (>= 0)")),
	), s.setPosition)

	s.mcp.AddTool(mcp.NewTool("list_recent",
		mcp.WithDescription("List recently read documents with their stored pages, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
	), s.listRecent)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a note in the vault."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("get_position_contract",
		mcp.WithDescription("Returns the canonical position front-matter format contract. "+
			"Call this before editing stored positions in notes directly."),
	), s.getContract)

	// Resource: position format contract.
	s.mcp.AddResource(
		mcp.NewResource("pagemark://position-format", "Position Format Contract",
			mcp.WithResourceDescription("How reading positions are stored in note front matter."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) getPosition(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	note, ok := resolver.Resolve(doc, s.settings.NoteTemplate)
	if ok {
		if page, found, readErr := s.fm.ReadPage(note, s.settings.FrontmatterKey); readErr == nil && found {
			out, _ := json.MarshalIndent(map[string]any{
				"document_path": doc,
				"note_path":     note,
				"page":          page,
			}, "", "  ")
			return mcp.NewToolResultText(string(out)), nil
		}
	}

	p, err := s.hist.Get(doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no stored position for %s", doc)), nil
	}
	out, _ := json.MarshalIndent(p, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) setPosition(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := req.RequireInt("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if page < 0 {
		return mcp.NewToolResultError("page must be >= 0"), nil
	}

	note, ok := resolver.Resolve(doc, s.settings.NoteTemplate)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("note template does not resolve for %s", doc)), nil
	}
	if err := s.fm.WritePage(note, s.settings.FrontmatterKey, page, s.settings.CreateNoteIfMissing); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.hist.RecordSave(doc, note, page); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.MarshalIndent(map[string]any{
		"document_path": doc,
		"note_path":     note,
		"page":          page,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRecent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	items, _, err := s.hist.Recent(limit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PositionFormatContract), nil
}

func (s *Server) readContractResource(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     PositionFormatContract,
		},
	}, nil
}
