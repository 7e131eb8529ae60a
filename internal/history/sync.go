package history

import (
	"log/slog"

	"github.com/starford/pagemark/internal/frontmatter"
	"github.com/starford/pagemark/internal/storage"
)

// Sync reconciles the index with the vault at startup: positions whose note
// changed while the daemon was down are refreshed from front matter. A
// missing note is absence of prior state, not an error — the row keeps its
// last known page.
func Sync(db PositionIndex, store storage.Provider, fm *frontmatter.Store, key string, logger *slog.Logger) error {
	positions, err := db.All()
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	metas, err := store.List("")
	if err != nil {
		return err
	}
	onDisk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		onDisk[m.Path] = struct{}{}
	}

	for _, p := range positions {
		if p.NotePath == "" {
			continue
		}
		if _, ok := onDisk[p.NotePath]; !ok {
			logger.Debug("sync: note missing, keeping last known page",
				slog.String("document", p.DocumentPath), slog.String("note", p.NotePath))
			continue
		}
		page, ok, err := fm.ReadPage(p.NotePath, key)
		if err != nil {
			logger.Warn("sync: read failed",
				slog.String("note", p.NotePath), slog.String("error", err.Error()))
			continue
		}
		if !ok || page == p.Page {
			continue
		}
		if err := db.RefreshPage(p.DocumentPath, page); err != nil {
			logger.Warn("sync: refresh failed",
				slog.String("document", p.DocumentPath), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: refreshed page",
			slog.String("document", p.DocumentPath), slog.Int("page", page))
	}

	return nil
}
