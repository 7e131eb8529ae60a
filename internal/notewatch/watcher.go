// Package notewatch watches the note vault for external edits so that open
// views can follow page changes made outside the daemon.
package notewatch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Callback is invoked once a changed note has settled. deleted is true when
// the note was removed or renamed away.
type Callback func(notePath string, deleted bool)

// settleDelay coalesces the burst of events an editor produces per save.
const settleDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and reports note
// changes until ctx is cancelled. Events for the same path within the settle
// window are coalesced. New directories created at runtime are automatically
// added to the watch list.
func Watch(ctx context.Context, vaultRoot string, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	pending := make(map[string]bool) // rel path → deleted
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(settleDelay)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(settleDelay)
		}
	}

	mark := func(rel string, deleted bool) {
		// A delete following a write wins; a write following a delete
		// means the note is back.
		pending[rel] = deleted
		schedule()
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			for rel, deleted := range pending {
				logger.Debug("watcher: note changed",
					slog.String("path", rel), slog.Bool("deleted", deleted))
				if cb != nil {
					cb(rel, deleted)
				}
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories: start watching and pick up any notes inside.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					markDirNotes(vaultRoot, absPath, mark)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				mark(rel, false)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify fires Rename on the old path only; the new
				// path arrives as a separate Create event.
				mark(rel, true)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// markDirNotes marks every note already inside a newly created directory.
func markDirNotes(vaultRoot, dirPath string, mark func(rel string, deleted bool)) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, path)
		if relErr != nil {
			return nil
		}
		mark(filepath.ToSlash(rel), false)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
