package mcpserver

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/pagemark/internal/frontmatter"
	"github.com/starford/pagemark/internal/testutil"
	"github.com/starford/pagemark/internal/track"
)

func testServer(t *testing.T) (*Server, *frontmatter.Store) {
	t.Helper()

	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	fm := frontmatter.NewStore(store, logger)

	settings := track.Settings{
		NoteTemplate:        "{{pdf_folder_path}}/{{pdf_basename}}.md",
		FrontmatterKey:      "pdf-view-state",
		EnableSaving:        true,
		EnableLoading:       true,
		CreateNoteIfMissing: true,
	}
	return New(store, fm, db, settings), fm
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "get_position":
		result, err = srv.getPosition(ctx, req)
	case "set_position":
		result, err = srv.setPosition(ctx, req)
	case "list_recent":
		result, err = srv.listRecent(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "get_position_contract":
		result, err = srv.getContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSetAndGetPosition(t *testing.T) {
	srv, fm := testServer(t)

	r := callTool(t, srv, "set_position", map[string]interface{}{
		"document_path": "Research/Smith 2024.pdf",
		"page":          15,
	})
	if r.IsError {
		t.Fatalf("set_position error: %s", resultText(r))
	}

	page, ok, err := fm.ReadPage("Research/Smith 2024.md", "pdf-view-state")
	if err != nil || !ok || page != 15 {
		t.Fatalf("stored page = (%d, %v, %v), want (15, true, nil)", page, ok, err)
	}

	r = callTool(t, srv, "get_position", map[string]interface{}{
		"document_path": "Research/Smith 2024.pdf",
	})
	if r.IsError {
		t.Fatalf("get_position error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"page": 15`) {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestSetPosition_NegativePage(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "set_position", map[string]interface{}{
		"document_path": "doc.pdf",
		"page":          -1,
	})
	if !r.IsError {
		t.Error("expected error for negative page")
	}
}

func TestGetPosition_Unknown(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_position", map[string]interface{}{
		"document_path": "never-seen.pdf",
	})
	if !r.IsError {
		t.Errorf("expected error, got %q", resultText(r))
	}
}

func TestListRecent(t *testing.T) {
	srv, _ := testServer(t)
	_ = callTool(t, srv, "set_position", map[string]interface{}{
		"document_path": "a.pdf", "page": 1,
	})
	_ = callTool(t, srv, "set_position", map[string]interface{}{
		"document_path": "b.pdf", "page": 2,
	})

	r := callTool(t, srv, "list_recent", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("list_recent error: %s", resultText(r))
	}
	out := resultText(r)
	if !strings.Contains(out, "a.pdf") || !strings.Contains(out, "b.pdf") {
		t.Errorf("result = %q", out)
	}
}

func TestReadNote(t *testing.T) {
	srv, _ := testServer(t)
	_ = callTool(t, srv, "set_position", map[string]interface{}{
		"document_path": "doc.pdf", "page": 3,
	})

	r := callTool(t, srv, "read_note", map[string]interface{}{"path": "doc.md"})
	if r.IsError {
		t.Fatalf("read_note error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "page: 3") {
		t.Errorf("result = %q", resultText(r))
	}

	r = callTool(t, srv, "read_note", map[string]interface{}{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_position_contract", map[string]interface{}{})
	out := resultText(r)
	for _, want := range []string{"pdf-view-state", "page:", "0-indexed"} {
		if !strings.Contains(out, want) {
			t.Errorf("contract missing %q", want)
		}
	}
}
