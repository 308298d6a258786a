// Package api provides the HTTP API and middleware for the hub.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nexus-relay/nexus/hub/internal/auth"
	"github.com/nexus-relay/nexus/hub/internal/config"
	"github.com/nexus-relay/nexus/hub/internal/store"
)

// Server is the HTTP API server: the auth handshake endpoints of §6.1 plus
// the /ws/client and /ws/agent upgrade mounts. The session-plane protocol
// itself lives in the hub package's Multiplexer; this package only owns
// auth and process health, and is handed the upgrade handlers directly to
// avoid an import cycle (hub wires api, so api cannot import hub back).
type Server struct {
	store         store.Store
	authProvider  auth.Provider
	loginProvider auth.LoginProvider
	logger        *slog.Logger
	router        *chi.Mux
	startTime     time.Time
	maxBodyBytes  int64
	loginRL       *rateLimiter
	rl            *rateLimiter
}

// NewServer creates a new API server. clientWS and agentWS are the hub's
// Multiplexer.HandleClientWS / HandleAgentWS, mounted at /ws/client and
// /ws/agent respectively.
func NewServer(s store.Store, ap auth.Provider, lp auth.LoginProvider, clientWS, agentWS http.HandlerFunc, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		logger:        logger.With("component", "api"),
		startTime:     time.Now(),
		maxBodyBytes:  1 << 20, // 1 MiB: auth bodies are small JSON objects
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(securityHeadersMiddleware)
	r.Use(makeCORSMiddleware(cfg.Server.ClientOrigin))

	r.Get("/healthz", srv.handleHealthz)
	r.Get("/readyz", srv.handleReadyz)

	srv.loginRL = newRateLimiter(5, 10)
	r.Get("/api/auth/status", srv.handleAuthStatus)
	r.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/auth/setup", srv.handleAuthSetup)
	r.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/auth/login", srv.handleAuthLogin)

	r.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		r.Use(rateLimitMiddleware(srv.rl))
		r.Post("/api/auth/password", srv.handleAuthChangePassword)
	})

	r.Get("/ws/client", clientWS)
	r.Get("/ws/agent", agentWS)

	srv.router = r
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.loginRL != nil {
		s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// --- Auth handlers (§6.1, §4.1) ---

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	needsSetup, err := s.loginProvider.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read auth status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"needs_setup": needsSetup})
}

func (s *Server) handleAuthSetup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Password   string `json:"password"`
		SetupToken string `json:"setupToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.loginProvider.Setup(r.Context(), req.Password, req.SetupToken, isLoopback(r))
	if err != nil {
		switch err {
		case auth.ErrAlreadyConfigured:
			writeError(w, http.StatusBadRequest, "already configured")
		case auth.ErrSetupNotAllowed:
			writeError(w, http.StatusForbidden, "setup not allowed from this origin")
		case auth.ErrWeakPassword:
			writeError(w, http.StatusBadRequest, "password does not meet minimum strength requirements")
		default:
			writeError(w, http.StatusInternalServerError, "setup failed")
		}
		return
	}

	s.logAudit(r.Context(), "auth.setup", "", "")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.loginProvider.Login(r.Context(), req.Password)
	if err != nil {
		s.logAudit(r.Context(), "login.failed", "", "")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.logAudit(r.Context(), "login.success", "", "")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAuthChangePassword(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.loginProvider.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		switch err {
		case auth.ErrInvalidCredentials:
			writeError(w, http.StatusUnauthorized, "current password is incorrect")
		case auth.ErrWeakPassword:
			writeError(w, http.StatusBadRequest, "password does not meet minimum strength requirements")
		default:
			writeError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	s.logAudit(r.Context(), "auth.password_change", "", "")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func (s *Server) logAudit(ctx context.Context, action, sessionID, agentID string) {
	if err := s.store.LogAuditEvent(ctx, &store.AuditEvent{
		ID: uuid.New().String(), Action: action, SessionID: sessionID, AgentID: agentID, CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}

// isLoopback reports whether the request originated from localhost, per
// the setup-gate of §4.1: setup is allowed without a ticket only when
// reached over loopback.
func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
