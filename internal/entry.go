// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/pagemark/internal/api"
	"github.com/starford/pagemark/internal/frontmatter"
	"github.com/starford/pagemark/internal/history"
	"github.com/starford/pagemark/internal/mcpserver"
	"github.com/starford/pagemark/internal/notewatch"
	"github.com/starford/pagemark/internal/sse"
	"github.com/starford/pagemark/internal/storage"
	"github.com/starford/pagemark/internal/track"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	// Initialize vault storage.
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Initialize reading-history index.
	db, err := history.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	defer db.Close()

	// Front-matter store with parse cache.
	fm := frontmatter.NewStore(store, logger)

	// Sync settings: config section overlaid with the runtime overrides file.
	settings, err := track.LoadSettings(cfg.Sync.SettingsPath, settingsFromConfig(cfg.Sync))
	if err != nil {
		logger.Warn("settings overrides unreadable, using config values",
			slog.String("path", cfg.Sync.SettingsPath), slog.String("error", err.Error()))
	}

	// Refresh the index from notes edited while the daemon was down.
	if err := history.Sync(db, store, fm, settings.FrontmatterKey, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	// Sync controller.
	ctrl := track.NewController(fm, db, broker, settings, timingFromConfig(cfg.Sync), cfg.Sync.SettingsPath, logger)

	// Build API router.
	apiRouter := api.NewRouter(ctrl, db, store, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(broker.ServeHTTP))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the vault for external note edits and feed them to the controller.
	g.Go(func() error {
		return notewatch.Watch(gCtx, store.Root(), logger, func(notePath string, deleted bool) {
			fm.Invalidate(notePath)
			if deleted {
				return
			}
			key := ctrl.Settings().FrontmatterKey
			page, ok, err := fm.ReadPage(notePath, key)
			if err != nil || !ok {
				return
			}
			docs, err := db.DocumentsForNote(notePath)
			if err != nil {
				logger.Warn("note lookup failed", slog.String("note", notePath), slog.String("error", err.Error()))
				return
			}
			for _, doc := range docs {
				if err := db.RefreshPage(doc, page); err != nil {
					logger.Warn("refresh failed", slog.String("document", doc), slog.String("error", err.Error()))
				}
			}
			ctrl.NoteChanged(notePath, page)
			broker.Publish(sse.Event{Type: "note.changed", Data: map[string]any{
				"note_path": notePath,
				"page":      page,
			}})
		})
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Force-save every tracked view before the process exits.
		ctrl.Close()
		broker.Close()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the reading-position tools over MCP stdio. Logs go to
// stderr because the transport owns stdout.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	db, err := history.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	defer db.Close()

	fm := frontmatter.NewStore(store, logger)
	settings, err := track.LoadSettings(cfg.Sync.SettingsPath, settingsFromConfig(cfg.Sync))
	if err != nil {
		logger.Warn("settings overrides unreadable, using config values",
			slog.String("error", err.Error()))
	}

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(store, fm, db, settings).ServeStdio()
}

func settingsFromConfig(c SyncConfig) track.Settings {
	return track.Settings{
		NoteTemplate:        c.NoteTemplate,
		FrontmatterKey:      c.FrontmatterKey,
		EnableSaving:        c.EnableSaving,
		EnableLoading:       c.EnableLoading,
		CreateNoteIfMissing: c.CreateNoteIfMissing,
	}
}

func timingFromConfig(c SyncConfig) track.Timing {
	return track.Timing{
		SaveInterval: time.Duration(c.SaveIntervalSeconds) * time.Second,
		Throttle:     time.Duration(c.ThrottleSeconds) * time.Second,
		LoadTimeout:  time.Duration(c.LoadTimeoutSeconds) * time.Second,
		ReadyRetries: c.ReadyRetries,
		ReadyBackoff: time.Duration(c.ReadyBackoffMillis) * time.Millisecond,
	}
}
