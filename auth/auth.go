// Package auth is the boundary to the external identity provider. The
// sequencer only ever sees opaque, already-verified identities; the
// token exchange itself happens out of band.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrAuth is returned for unknown or invalid tokens.
var ErrAuth = errors.New("authentication failed")

// Identity is a verified participant handle.
type Identity struct {
	// ID is globally unique for the ceremony's duration.
	ID string
	// Nickname is optional display metadata.
	Nickname string
}

// Provider exchanges an opaque token for a verified Identity.
type Provider interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// StaticProvider authenticates against a fixed token registry. Suitable
// for tests and closed ceremonies; production deployments plug in their
// own Provider.
type StaticProvider struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{tokens: make(map[string]Identity)}
}

// Register associates token with id. Later registrations overwrite.
func (p *StaticProvider) Register(token string, id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = id
}

func (p *StaticProvider) Authenticate(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.tokens[token]
	if !ok {
		return Identity{}, ErrAuth
	}
	return id, nil
}
