// ABOUTME: URL token store mapping opaque tokens to granted capabilities.
// ABOUTME: Tokens are minted at startup for local agents and checked on MCP requests.

package mcp

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Grant is what a URL token authorizes.
type Grant struct {
	Subject      string
	Capabilities []string
	CreatedAt    time.Time
}

// TokenStore manages URL tokens (/mcp/<token> or ?token=).
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Grant
}

// NewTokenStore creates a new token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]Grant),
	}
}

// Create mints a token for subject with caps.
func (s *TokenStore) Create(subject string, caps []string) string {
	token := uuid.New().String()

	s.mu.Lock()
	s.tokens[token] = Grant{
		Subject:      subject,
		Capabilities: slices.Clone(caps),
		CreatedAt:    time.Now(),
	}
	s.mu.Unlock()

	return token
}

// Lookup returns the grant for token.
func (s *TokenStore) Lookup(token string) (Grant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.tokens[token]
	if !ok {
		return Grant{}, false
	}
	g.Capabilities = slices.Clone(g.Capabilities)
	return g, true
}

// Revoke removes a token.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Count returns the number of active tokens.
func (s *TokenStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
