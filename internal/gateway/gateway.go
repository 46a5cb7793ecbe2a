// ABOUTME: Gateway assembly: wires the store, registry, dispatcher, API, and
// ABOUTME: websocket layer into one HTTP server with graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/config"
	"github.com/2389/parley-gateway/internal/dedupe"
	"github.com/2389/parley-gateway/internal/directory"
	"github.com/2389/parley-gateway/internal/dispatch"
	"github.com/2389/parley-gateway/internal/httpapi"
	"github.com/2389/parley-gateway/internal/registry"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/webadmin"
	"github.com/2389/parley-gateway/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// Gateway holds every long-lived component of a running instance.
type Gateway struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.SQLiteStore
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	dedupe     *dedupe.Cache
	httpServer *http.Server
}

// New assembles a gateway from configuration. Nothing is listening until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	reg := registry.New(logger)
	dir := directory.New(st, logger)
	dispatcher := dispatch.New(st, dir, reg, logger)
	cache := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)

	wsServer := ws.NewServer(dispatcher, reg, ws.Options{
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PongTimeout:  cfg.WebSocket.PongTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := httpapi.NewServer(st, verifier, dispatcher, cache, wsServer, reg, cfg.Auth.TokenTTL, logger)
	api.Register(router)

	if cfg.WebAdmin.Enabled {
		webadmin.New(st, logger).Register(router)
		logger.Info("web admin enabled", "path", "/admin")
	}

	return &Gateway{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		registry:   reg,
		dispatcher: dispatcher,
		dedupe:     cache,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until the context is canceled or the listener fails, then shuts
// down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.cfg.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		g.logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("shutdown incomplete", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.dedupe.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}
