package auth

import (
	"github.com/nexus-relay/nexus/hub/internal/config"
	"github.com/nexus-relay/nexus/hub/internal/store"
)

// NewProvider builds the hub's auth Service, which implements Provider,
// LoginProvider, and AgentAuthProvider.
func NewProvider(cfg *config.Config, s store.Store) *Service {
	return NewService(s, cfg)
}
