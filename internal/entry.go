// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/linker"
	"github.com/starford/ansuz/internal/llm"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
)

// runtime holds the components shared by every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	db     *index.DB
	store  *storage.FS
	svc    *linker.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the JSON logger. Commands that own stdout log to stderr.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// bootstrap opens the vault and index, brings the index up to date and
// restores the linking session. Index changes found by the initial sync are
// passed to onEvent after the session has handled them.
func bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger, observer linker.Observer, onEvent index.EventCallback) (*runtime, error) {
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("ollama", !cfg.Ollama.Disabled))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	opts := []linker.Option{
		linker.WithConfig(cfg.Linking.Pipeline()),
		linker.WithBodies(db),
		linker.WithLogger(logger),
		linker.WithObserver(observer),
	}
	if !cfg.Ollama.Disabled {
		client := llm.NewOllama(
			llm.WithBaseURL(cfg.Ollama.Endpoint),
			llm.WithEmbeddingModel(cfg.Ollama.EmbeddingModel),
			llm.WithGenerationModel(cfg.Ollama.GenerationModel),
			llm.WithTimeout(cfg.Ollama.Timeout),
			llm.WithTemperature(cfg.Ollama.Temperature),
		)
		opts = append(opts, linker.WithEmbedder(client), linker.WithGenerator(client))
	}
	svc := linker.New(store, db, opts...)
	if err := svc.Load(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load session: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, db: db, store: store, svc: svc}
	if err := index.Sync(db, store, logger, rt.noteEvent(onEvent)); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return rt, nil
}

// noteEvent routes index changes into the session, then to next.
func (rt *runtime) noteEvent(next index.EventCallback) index.EventCallback {
	return func(kind, path string) {
		rt.svc.HandleNoteEvent(kind, path)
		if next != nil {
			next(kind, path)
		}
	}
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.svc.Save(ctx); err != nil {
		rt.logger.Error("saving session failed", slog.String("error", err.Error()))
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Error("closing index failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server, the vault watcher and the SSE broker.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stdout)

	broker := sse.NewBroker(2*time.Second, sse.WithKeepalive(30*time.Second))
	defer broker.Close()

	observer := func(p linker.Progress) { broker.PublishScan(p.Done, p) }
	rt, err := bootstrap(ctx, cfg, logger, observer, broker.PublishNoteEvent)
	if err != nil {
		return err
	}
	defer rt.close()

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		if err := rt.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"index unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher; changes reach the session and the SSE broker.
	g.Go(func() error {
		if err := index.Watch(gCtx, rt.db, rt.store, cfg.Vault.Path, logger, rt.noteEvent(broker.PublishNoteEvent)); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
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
		defer signal.Stop(quit)

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
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server has been asked to stop so
// the watcher exits too.
var errShutdown = errors.New("shutdown")

// RunMCP serves the linking tools over stdio while watching the vault.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)

	rt, err := bootstrap(ctx, app.config, logger, nil, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := index.Watch(watchCtx, rt.db, rt.store, app.config.Vault.Path, logger, rt.noteEvent(nil)); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// Plan prints the current scan plan as JSON.
func Plan(ctx context.Context, currentFile string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := bootstrap(ctx, app.config, newLogger(app.config, os.Stderr), nil, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	plan, err := rt.svc.Plan(ctx, linker.PlanOptions{CurrentFile: currentFile})
	if err != nil {
		return err
	}
	return printJSON(app.out, plan)
}

// Scan runs one scan pass and prints its report as JSON.
func Scan(ctx context.Context, currentFile string, limit int, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)
	observer := func(p linker.Progress) {
		if !p.Done {
			logger.Info("scan progress",
				slog.String("path", p.Path),
				slog.Int("processed", p.Processed),
				slog.Int("total", p.Total))
		}
	}
	rt, err := bootstrap(ctx, app.config, logger, observer, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.svc.Scan(ctx, linker.ScanOptions{
		PlanOptions: linker.PlanOptions{CurrentFile: currentFile},
		Limit:       limit,
	})
	if err != nil {
		return err
	}
	return printJSON(app.out, report)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
