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

	"github.com/starford/oohmap/internal/api"
	"github.com/starford/oohmap/internal/inbox"
	"github.com/starford/oohmap/internal/mcpserver"
	"github.com/starford/oohmap/internal/metrics"
	"github.com/starford/oohmap/internal/sse"
	"github.com/starford/oohmap/internal/wizard"
)

// layerRefreshThrottle bounds layers.updated events per project.
const layerRefreshThrottle = 2 * time.Second

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	cfg, logger, err := setup(opts, os.Stdout)
	if err != nil {
		return err
	}
	logConfig(logger, cfg)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// SSE broker.
	broker := sse.NewBroker(layerRefreshThrottle)
	defer broker.Close()

	svc, err := buildServices(ctx, cfg, logger, hooks{
		metrics:  m,
		events:   broker,
		progress: broker.PublishGeocodeProgress,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.close(); err != nil {
			logger.Error("close services failed", slog.String("error", err.Error()))
		}
	}()

	apiRouter := api.NewRouter(api.Deps{
		Maps:          svc.maps,
		Layers:        svc.layers,
		Geocoder:      svc.geocoder,
		Wizard:        svc.wizard,
		Events:        broker,
		Progress:      broker.PublishGeocodeProgress,
		Metrics:       m,
		AuthEnabled:   cfg.Auth.AuthEnabled(),
		AuthToken:     cfg.Auth.Token,
		AllowedOrigin: cfg.App.HTTP.AllowedOrigin,
	})

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

	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// Mount API routes under /api.
	r.Mount(api.Prefix, apiRouter)
	r.NotFound(api.NotFound(apiRouter))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Drop-folder importer.
	if cfg.Inbox.Enabled {
		w := inbox.New(cfg.Inbox.Path, cfg.Inbox.ProjectID, svc.wizard,
			inbox.WithLogger(logger),
			inbox.WithCallback(func(name string, out *wizard.Outcome, err error) {
				if err != nil {
					return
				}
				logger.Info("inbox file imported",
					slog.String("file", name),
					slog.String("layer_id", out.LayerID),
					slog.Int("rows", out.Rows))
			}),
		)
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				return fmt.Errorf("inbox watcher: %w", err)
			}
			return nil
		})
	}

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

		// SSE streams never end on their own.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
// Logs go to stderr unless WithLogOutput says otherwise.
func RunMCP(ctx context.Context, opts ...Option) error {
	cfg, logger, err := setup(opts, os.Stderr)
	if err != nil {
		return err
	}

	svc, err := buildServices(ctx, cfg, logger, hooks{})
	if err != nil {
		return err
	}
	defer func() { _ = svc.close() }()

	srv := mcpserver.New(mcpserver.Deps{
		Maps:     svc.maps,
		Layers:   svc.layers,
		Geocoder: svc.geocoder,
		Wizard:   svc.wizard,
	})

	logger.Info("MCP server starting on stdio")
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
