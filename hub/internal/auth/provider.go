package auth

import "context"

// Identity is the authenticated caller behind a bearer token. The system has
// exactly one administrative principal, so Admin is always true for a valid
// client-facing token; the field is kept so downstream checks read the same
// way they would under a richer identity model.
type Identity struct {
	Principal string
	Admin     bool
}

// Provider validates bearer tokens issued at login/setup time.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Bootstrap(ctx context.Context) error
	Name() string
}

// LoginProvider exposes the setup/login/change-password flow of §4.1.
type LoginProvider interface {
	Status(ctx context.Context) (needsSetup bool, err error)
	Setup(ctx context.Context, password, setupTicket string, loopback bool) (token string, err error)
	Login(ctx context.Context, password string) (token string, err error)
	ChangePassword(ctx context.Context, current, newPassword string) error
}

// AgentAuthProvider validates the shared credential agents present on
// connect (§6.1 GET /ws/agent, §6.2 register frame).
type AgentAuthProvider interface {
	ValidateAgentToken(token string) bool
	AllowUnauthenticatedAgents() bool
}
