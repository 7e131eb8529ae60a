package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/starford/pagemark/internal/frontmatter"
	"github.com/starford/pagemark/internal/history"
	"github.com/starford/pagemark/internal/storage"
	"github.com/starford/pagemark/internal/testutil"
	"github.com/starford/pagemark/internal/track"
)

type noopNotifier struct{}

func (noopNotifier) PublishNavigate(string, string, int) {}
func (noopNotifier) PublishSaved(string, string, int)    {}
func (noopNotifier) PublishSyncError(string, string)     {}

// testEnv sets up a temp vault, SQLite DB, controller, and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (http.Handler, *history.DB, storage.Provider) {
	t.Helper()

	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	fm := frontmatter.NewStore(store, logger)

	settings := track.Settings{
		NoteTemplate:        "{{pdf_folder_path}}/{{pdf_basename}}.md",
		FrontmatterKey:      "pdf-view-state",
		EnableSaving:        true,
		EnableLoading:       false,
		CreateNoteIfMissing: true,
	}
	timing := track.Timing{
		SaveInterval: time.Hour, // only explicit saves in these tests
		Throttle:     0,
		LoadTimeout:  time.Second,
		ReadyRetries: 3,
		ReadyBackoff: 10 * time.Millisecond,
	}
	ctrl := track.NewController(fm, db, noopNotifier{}, settings, timing, "", logger)
	t.Cleanup(ctrl.Close)

	return NewRouter(ctrl, db, store, authToken != "", authToken, nil), db, store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestViewLifecycle(t *testing.T) {
	router, _, _ := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/views",
		map[string]any{"id": "v1", "document_path": "a/doc.pdf"})
	if w.Code != http.StatusCreated {
		t.Fatalf("open status = %d, body = %s", w.Code, w.Body.String())
	}

	// Duplicate open conflicts.
	w = doJSON(t, router, http.MethodPost, "/views",
		map[string]any{"id": "v1", "document_path": "a/doc.pdf"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate open status = %d, want 409", w.Code)
	}

	w = doJSON(t, router, http.MethodPut, "/views/v1/page", map[string]int{"page": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("report page status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/views", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 {
		t.Errorf("total = %d, want 1", list.Total)
	}

	w = doJSON(t, router, http.MethodDelete, "/views/v1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestOpenView_BadRequests(t *testing.T) {
	router, _, _ := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/views", map[string]any{"id": "v1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing document_path status = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/views", bytes.NewReader([]byte("{not json")))
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusBadRequest {
		t.Errorf("invalid json status = %d, want 400", w2.Code)
	}
}

func TestSaveNowAndPositions(t *testing.T) {
	router, _, _ := testEnv(t, "")

	_ = doJSON(t, router, http.MethodPost, "/views",
		map[string]any{"id": "v1", "document_path": "a/doc.pdf"})
	_ = doJSON(t, router, http.MethodPut, "/views/v1/page", map[string]int{"page": 6})

	w := doJSON(t, router, http.MethodPost, "/views/v1/save", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/positions/a/doc.pdf", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get position status = %d", w.Code)
	}
	var pos struct {
		Page int `json:"page"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &pos)
	if pos.Page != 6 {
		t.Errorf("page = %d, want 6", pos.Page)
	}

	w = doJSON(t, router, http.MethodGet, "/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list positions status = %d", w.Code)
	}
}

func TestSaveNow_ConflictBeforeFirstPage(t *testing.T) {
	router, _, _ := testEnv(t, "")

	_ = doJSON(t, router, http.MethodPost, "/views",
		map[string]any{"id": "v1", "document_path": "doc.pdf"})

	w := doJSON(t, router, http.MethodPost, "/views/v1/save", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("save without page status = %d, want 409", w.Code)
	}
}

func TestPositionsRenameAndDelete(t *testing.T) {
	router, db, _ := testEnv(t, "")
	_ = db.RecordSave("old.pdf", "old.md", 2)

	w := doJSON(t, router, http.MethodPost, "/positions/rename",
		map[string]string{"old_path": "old.pdf", "new_path": "new.pdf"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/positions/new.pdf", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get renamed status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/positions/old.pdf", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get old path status = %d, want 404", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/positions/new.pdf", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/positions/new.pdf", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", w.Code)
	}
}

func TestPositionsRename_MovesNote(t *testing.T) {
	router, db, store := testEnv(t, "")
	_ = store.Write("old.md", []byte("---\npdf-view-state:\n  page: 2\n---\nbody\n"))
	_ = db.RecordSave("old.pdf", "old.md", 2)

	w := doJSON(t, router, http.MethodPost, "/positions/rename",
		map[string]string{"old_path": "old.pdf", "new_path": "sub/new.pdf"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body = %s", w.Code, w.Body.String())
	}

	if exists, _ := store.Exists("old.md"); exists {
		t.Error("old note still present after rename")
	}
	content, err := store.Read("sub/new.md")
	if err != nil {
		t.Fatalf("read moved note: %v", err)
	}
	if !bytes.Contains(content, []byte("page: 2")) {
		t.Errorf("moved note content = %q", content)
	}

	p, err := db.Get("sub/new.pdf")
	if err != nil {
		t.Fatalf("Get renamed: %v", err)
	}
	if p.NotePath != "sub/new.md" {
		t.Errorf("note path = %q, want sub/new.md", p.NotePath)
	}
}

func TestPositionsDelete_DeleteNoteFlag(t *testing.T) {
	router, db, store := testEnv(t, "")
	_ = store.Write("doc.md", []byte("---\npdf-view-state:\n  page: 1\n---\n"))
	_ = db.RecordSave("doc.pdf", "doc.md", 1)

	// Without the flag the note stays.
	w := doJSON(t, router, http.MethodDelete, "/positions/doc.pdf", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if exists, _ := store.Exists("doc.md"); !exists {
		t.Fatal("note deleted without delete_note flag")
	}

	_ = db.RecordSave("doc.pdf", "doc.md", 1)
	w = doJSON(t, router, http.MethodDelete, "/positions/doc.pdf?delete_note=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete with flag status = %d, body = %s", w.Code, w.Body.String())
	}
	if exists, _ := store.Exists("doc.md"); exists {
		t.Error("note still present after delete_note=true")
	}
}

func TestPositionsSearch(t *testing.T) {
	router, db, _ := testEnv(t, "")
	_ = db.RecordSave("Research/Smith 2024.pdf", "Research/Smith 2024.md", 1)

	w := doJSON(t, router, http.MethodGet, "/positions/search?q=smith", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var out struct {
		Positions []struct {
			DocumentPath string `json:"document_path"`
		} `json:"positions"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if len(out.Positions) != 1 {
		t.Fatalf("positions = %+v, want 1 hit", out.Positions)
	}

	w = doJSON(t, router, http.MethodGet, "/positions/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search without q status = %d, want 400", w.Code)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	router, _, _ := testEnv(t, "")

	w := doJSON(t, router, http.MethodGet, "/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get settings status = %d", w.Code)
	}
	var s track.Settings
	_ = json.Unmarshal(w.Body.Bytes(), &s)
	if s.FrontmatterKey != "pdf-view-state" {
		t.Errorf("key = %q", s.FrontmatterKey)
	}

	s.NoteTemplate = "notes/{{pdf_basename}}.md"
	w = doJSON(t, router, http.MethodPut, "/settings", s)
	if w.Code != http.StatusOK {
		t.Fatalf("put settings status = %d, body = %s", w.Code, w.Body.String())
	}

	s.FrontmatterKey = ""
	w = doJSON(t, router, http.MethodPut, "/settings", s)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid settings status = %d, want 400", w.Code)
	}
}

func TestAuth(t *testing.T) {
	router, _, _ := testEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/views", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/views", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/views", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}
