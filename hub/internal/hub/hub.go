// Package hub is the main orchestrator that ties all hub components
// together: storage, auth, the session-plane Multiplexer, and the HTTP API.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexus-relay/nexus/hub/internal/api"
	"github.com/nexus-relay/nexus/hub/internal/auth"
	"github.com/nexus-relay/nexus/hub/internal/config"
	"github.com/nexus-relay/nexus/hub/internal/store"
)

// Hub is the main hub process.
type Hub struct {
	cfg    *config.Config
	store  store.Store
	auth   *auth.Service
	mux    *Multiplexer
	api    *api.Server
	logger *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.New(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authSvc := auth.NewProvider(cfg, db)
	if err := authSvc.Bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	mux := NewMultiplexer(db, authSvc, authSvc, cfg.Server.ClientOrigin, cfg.Storage.OutputTailChars, logger)
	apiSrv := api.NewServer(db, authSvc, authSvc, mux.HandleClientWS, mux.HandleAgentWS, cfg, logger)

	h := &Hub{
		cfg:    cfg,
		store:  db,
		auth:   authSvc,
		mux:    mux,
		api:    apiSrv,
		logger: logger.With("component", "hub"),
	}

	if len(cfg.Auth.JWTSecret) < 32 {
		logger.Warn("JWT secret is shorter than 32 characters — use a stronger secret in production")
	}
	if cfg.Server.ClientOrigin == "*" {
		logger.Warn("CLIENT_ORIGIN is '*' — restrict to a specific origin in production")
	}
	if cfg.Agents.AllowUnauthenticated {
		logger.Warn("ALLOW_UNAUTHENTICATED_WORKERS is set — any agent can register without a token")
	}

	return h, nil
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
	}

	h.mux.StartAgentLivenessSweep(ctx)
	h.api.StartBackgroundTasks(ctx)

	if h.cfg.Storage.AuditRetention.Duration > 0 {
		go h.runAuditRetentionPurger(ctx, h.cfg.Storage.AuditRetention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.logger.Info("flushing buffered session output")
		h.mux.FlushOutputs()

		h.logger.Info("closing store")
		_ = h.store.Close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = h.store.Close()
		return err
	}
}

func (h *Hub) runAuditRetentionPurger(ctx context.Context, auditRetention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-auditRetention)
			if n, err := h.store.PurgeOldAuditEvents(ctx, cutoff); err != nil {
				h.logger.Warn("retention purge: audit events failed", "error", err)
			} else if n > 0 {
				h.logger.Info("retention purge: deleted old audit events", "count", n)
			}
		}
	}
}
