package frontmatter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/pagemark/internal/checksum"
	"github.com/starford/pagemark/internal/storage"
)

// Store reads and writes reading positions stored under a front matter key.
// Reads go through a checksum-validated cache; writes are scoped
// read-modify-write operations that leave the rest of the note untouched.
type Store struct {
	store  storage.Provider
	cache  *Cache
	logger *slog.Logger
}

// NewStore creates a Store over the given vault provider.
func NewStore(store storage.Provider, logger *slog.Logger) *Store {
	return &Store{store: store, cache: NewCache(), logger: logger}
}

// Invalidate drops the cached front matter for a note. Called by the vault
// watcher when a note changes on disk.
func (s *Store) Invalidate(path string) {
	s.cache.Invalidate(path)
}

// ReadPage returns the page stored under key in the note at path.
// A missing note, a missing key, or a malformed value all yield ok=false
// with a nil error; only I/O failures are errors.
func (s *Store) ReadPage(path, key string) (page int, ok bool, err error) {
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}

	sum := checksum.Sum(data)
	fields, hit := s.cache.Get(path, sum)
	if !hit {
		block, _, found := Split(data)
		if found {
			fields, err = Fields(block)
			if err != nil {
				// Malformed front matter reads as absence of state.
				s.logger.Warn("frontmatter: unparseable block",
					slog.String("path", path), slog.String("error", err.Error()))
				fields = nil
			}
		}
		s.cache.Put(path, sum, fields)
	}

	if fields == nil {
		return 0, false, nil
	}
	page, ok = PageFromValue(fields[key])
	return page, ok, nil
}

// WritePage persists page under key in the note at path as {page: page}.
// When the note does not exist it is created with a minimal front matter
// block if createIfMissing is set, otherwise the write is a no-op. Writes
// that would not change the stored value are skipped. Malformed existing
// front matter is patched textually rather than aborting.
func (s *Store) WritePage(path, key string, page int, createIfMissing bool) error {
	if page < 0 {
		return fmt.Errorf("frontmatter: invalid page %d", page)
	}

	data, err := s.store.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if !createIfMissing {
			return nil
		}
		content, err := renderBlock(key, page)
		if err != nil {
			return err
		}
		if err := s.store.Write(path, content); err != nil {
			return fmt.Errorf("frontmatter: create note: %w", err)
		}
		s.cache.Invalidate(path)
		return nil
	}

	updated, changed, err := upsertPage(data, key, page)
	if err != nil {
		s.logger.Warn("frontmatter: patching malformed block",
			slog.String("path", path), slog.String("error", err.Error()))
		updated = patchRaw(data, key, page)
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.store.Write(path, updated); err != nil {
		return err
	}
	s.cache.Invalidate(path)
	return nil
}
