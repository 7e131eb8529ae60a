package notewatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(path string, deleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if deleted {
		r.events = append(r.events, "deleted:"+path)
	} else {
		r.events = append(r.events, "changed:"+path)
	}
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T) (string, *recorder) {
	t.Helper()
	vaultDir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &recorder{}
	go func() { _ = Watch(ctx, vaultDir, logger, rec.record) }()
	time.Sleep(100 * time.Millisecond)
	return vaultDir, rec
}

func TestWatch_NoteWriteReported(t *testing.T) {
	vaultDir, rec := startWatcher(t)

	_ = os.WriteFile(filepath.Join(vaultDir, "note.md"), []byte("---\npdf-view-state:\n  page: 1\n---\n"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("changed:note.md")
	}, "expected changed:note.md callback")
}

func TestWatch_NonNoteIgnored(t *testing.T) {
	vaultDir, rec := startWatcher(t)

	_ = os.WriteFile(filepath.Join(vaultDir, "paper.pdf"), []byte("binary"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, "real.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("changed:real.md")
	}, "expected changed:real.md callback")

	if rec.has("changed:paper.pdf") {
		t.Error("non-markdown file should not be reported")
	}
}

func TestWatch_DeleteReported(t *testing.T) {
	vaultDir, rec := startWatcher(t)

	path := filepath.Join(vaultDir, "del.md")
	_ = os.WriteFile(path, []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("changed:del.md")
	}, "expected create callback first")

	_ = os.Remove(path)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("deleted:del.md")
	}, "expected deleted:del.md callback")
}

func TestWatch_NewDirWatched(t *testing.T) {
	vaultDir, rec := startWatcher(t)

	subDir := filepath.Join(vaultDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(300 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("changed:subdir/deep.md")
	}, "file in new subdir not reported")
}

func TestWatch_BurstCoalesced(t *testing.T) {
	vaultDir, rec := startWatcher(t)

	path := filepath.Join(vaultDir, "burst.md")
	for i := 0; i < 5; i++ {
		_ = os.WriteFile(path, []byte("rev"), 0o644)
		time.Sleep(10 * time.Millisecond)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("changed:burst.md")
	}, "expected changed:burst.md callback")

	// The writes land within one settle window; after it flushes there
	// should be far fewer callbacks than writes.
	time.Sleep(2 * settleDelay)
	rec.mu.Lock()
	n := 0
	for _, e := range rec.events {
		if e == "changed:burst.md" {
			n++
		}
	}
	rec.mu.Unlock()
	if n >= 5 {
		t.Errorf("burst not coalesced: %d callbacks for 5 writes", n)
	}
}
