// Package auth implements the hub's single-admin credential store (§4.1):
// PBKDF2-SHA512 password hashing, setup/login/change-password, and bearer
// token issuance and verification.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/nexus-relay/nexus/hub/internal/config"
	"github.com/nexus-relay/nexus/hub/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotConfigured      = errors.New("not configured")
	ErrAlreadyConfigured  = errors.New("already configured")
	ErrWeakPassword       = errors.New("password too weak")
	ErrSetupNotAllowed    = errors.New("setup not allowed from this origin")
	ErrUnauthorized       = errors.New("unauthorized")
)

const (
	pbkdf2Iterations = 150_000
	pbkdf2KeyLen     = 64
	saltLen          = 16
	minPasswordLen   = 8
)

// Claims is the JWT payload: principal and admin-flag, per §4.1.
type Claims struct {
	Principal string `json:"principal"`
	Admin     bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Service implements Provider, LoginProvider, and AgentAuthProvider for the
// single-admin-principal model.
type Service struct {
	store           store.Store
	jwtSecret       []byte
	sessionLifetime time.Duration
	setupToken      string
	bootstrapPwd    string
	agentToken      string
	allowUnauthAgents bool
}

// NewService builds the auth service from resolved hub configuration.
func NewService(s store.Store, cfg *config.Config) *Service {
	return &Service{
		store:             s,
		jwtSecret:         []byte(cfg.Auth.JWTSecret),
		sessionLifetime:   cfg.Auth.SessionLifetime.Duration,
		setupToken:        cfg.Auth.SetupToken,
		bootstrapPwd:      cfg.Auth.AdminPassword,
		agentToken:        cfg.Agents.Token,
		allowUnauthAgents: cfg.Agents.AllowUnauthenticated,
	}
}

func (s *Service) Name() string { return "builtin" }

// Bootstrap creates the admin credential from ADMIN_PASSWORD if configured
// and no credential exists yet. Operators who prefer the interactive setup
// flow simply never set ADMIN_PASSWORD.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.bootstrapPwd == "" {
		return nil
	}
	rec, err := s.store.GetAuth(ctx)
	if err != nil {
		return fmt.Errorf("check existing auth: %w", err)
	}
	if rec != nil && rec.SetupComplete {
		return nil
	}
	_, err = s.setup(ctx, s.bootstrapPwd)
	return err
}

// Status implements LoginProvider.
func (s *Service) Status(ctx context.Context) (bool, error) {
	rec, err := s.store.GetAuth(ctx)
	if err != nil {
		return false, err
	}
	return rec == nil || !rec.SetupComplete, nil
}

// Setup implements LoginProvider. Accepted only when the caller is loopback
// or presents a setup ticket matching the configured one exactly, compared
// in constant time.
func (s *Service) Setup(ctx context.Context, password, setupTicket string, loopback bool) (string, error) {
	rec, err := s.store.GetAuth(ctx)
	if err != nil {
		return "", err
	}
	if rec != nil && rec.SetupComplete {
		return "", ErrAlreadyConfigured
	}

	if !loopback {
		if s.setupToken == "" || !constantTimeEqual(setupTicket, s.setupToken) {
			return "", ErrSetupNotAllowed
		}
	}

	return s.setup(ctx, password)
}

func (s *Service) setup(ctx context.Context, password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", ErrWeakPassword
	}

	hash, salt, err := hashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	rec := &store.AuthRecord{
		SetupComplete: true,
		PasswordHash:  hash,
		Salt:          salt,
		Iterations:    pbkdf2Iterations,
		UpdatedAt:     time.Now(),
	}
	if err := s.store.SetAuth(ctx, rec); err != nil {
		return "", fmt.Errorf("persist credential: %w", err)
	}

	return s.issueToken()
}

// Login implements LoginProvider.
func (s *Service) Login(ctx context.Context, password string) (string, error) {
	rec, err := s.store.GetAuth(ctx)
	if err != nil {
		return "", err
	}
	if rec == nil || !rec.SetupComplete {
		return "", ErrNotConfigured
	}

	if !verifyPassword(password, rec.Salt, rec.Iterations, rec.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	return s.issueToken()
}

// ChangePassword implements LoginProvider.
func (s *Service) ChangePassword(ctx context.Context, current, newPassword string) error {
	rec, err := s.store.GetAuth(ctx)
	if err != nil {
		return err
	}
	if rec == nil || !rec.SetupComplete {
		return ErrNotConfigured
	}
	if !verifyPassword(current, rec.Salt, rec.Iterations, rec.PasswordHash) {
		return ErrInvalidCredentials
	}
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}

	hash, salt, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	rec.PasswordHash = hash
	rec.Salt = salt
	rec.Iterations = pbkdf2Iterations
	rec.UpdatedAt = time.Now()
	return s.store.SetAuth(ctx, rec)
}

// ValidateToken implements Provider.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	return &Identity{Principal: claims.Principal, Admin: claims.Admin}, nil
}

func (s *Service) issueToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		Principal: "admin",
		Admin:     true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateAgentToken implements AgentAuthProvider: a single shared secret,
// compared in constant time (§6.2 Open Question 3 — no per-agent key table).
func (s *Service) ValidateAgentToken(token string) bool {
	if s.agentToken == "" {
		return false
	}
	return constantTimeEqual(token, s.agentToken)
}

func (s *Service) AllowUnauthenticatedAgents() bool {
	return s.allowUnauthAgents
}

func hashPassword(password string) (hash string, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", nil, err
	}
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	return fmt.Sprintf("%x", derived), salt, nil
}

func verifyPassword(password string, salt []byte, iterations int, wantHash string) bool {
	if iterations <= 0 {
		iterations = pbkdf2Iterations
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, pbkdf2KeyLen, sha512.New)
	got := fmt.Sprintf("%x", derived)
	return constantTimeEqual(got, wantHash)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison against a same-length buffer so callers
		// can't time the length check itself.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
