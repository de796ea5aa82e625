package identity

import (
	"context"
	"sync"
)

// MemoryProvider is an in-memory Provider for demo mode and tests.
// Tokens are opaque strings registered with AddToken.
type MemoryProvider struct {
	mu     sync.RWMutex
	tokens map[string]*Principal             // token to principal
	users  map[string]map[string]interface{} // externalID to custom claims

	// FailSetClaims makes SetClaims return ErrProviderUnavailable.
	FailSetClaims bool
	// FailDeleteUser makes DeleteUser return ErrProviderUnavailable.
	FailDeleteUser bool
}

// NewMemoryProvider creates an empty in-memory identity provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		tokens: make(map[string]*Principal),
		users:  make(map[string]map[string]interface{}),
	}
}

// AddToken registers a token for a principal and creates the backing user.
func (m *MemoryProvider) AddToken(token string, p *Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if cp.Claims == nil {
		cp.Claims = make(map[string]interface{})
	}
	m.tokens[token] = &cp
	if _, ok := m.users[p.ExternalID]; !ok {
		m.users[p.ExternalID] = make(map[string]interface{})
	}
}

func (m *MemoryProvider) VerifyToken(_ context.Context, token string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	cp := *p
	// Fold the stored custom claims in, as the real provider embeds them
	// in freshly issued tokens.
	claims := make(map[string]interface{}, len(p.Claims))
	for k, v := range p.Claims {
		claims[k] = v
	}
	for k, v := range m.users[p.ExternalID] {
		claims[k] = v
	}
	cp.Claims = claims
	return &cp, nil
}

func (m *MemoryProvider) GetClaims(_ context.Context, externalID string) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	claims, ok := m.users[externalID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		cp[k] = v
	}
	return cp, nil
}

func (m *MemoryProvider) SetClaims(_ context.Context, externalID string, claims map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSetClaims {
		return ErrProviderUnavailable
	}
	if _, ok := m.users[externalID]; !ok {
		return ErrUserNotFound
	}
	cp := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		cp[k] = v
	}
	m.users[externalID] = cp
	return nil
}

func (m *MemoryProvider) DeleteUser(_ context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeleteUser {
		return ErrProviderUnavailable
	}
	if _, ok := m.users[externalID]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, externalID)
	for tok, p := range m.tokens {
		if p.ExternalID == externalID {
			delete(m.tokens, tok)
		}
	}
	return nil
}

// Claims returns the stored custom claims for assertions in tests.
func (m *MemoryProvider) Claims(externalID string) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[externalID]
}

// HasUser reports whether the user still exists in the provider.
func (m *MemoryProvider) HasUser(externalID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[externalID]
	return ok
}

var _ Provider = (*MemoryProvider)(nil)
