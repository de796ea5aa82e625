// Package identity integrates with the external identity provider.
//
// The provider is the source of truth for a principal's authentication
// state at request time. Custom claims pushed here are write-only: the
// service never reads them back to make a decision, it only trusts the
// claims embedded in a verified token.
package identity

import (
	"context"
	"errors"
)

// Errors
var (
	ErrInvalidToken        = errors.New("identity: invalid or revoked token")
	ErrUserNotFound        = errors.New("identity: user not found")
	ErrProviderUnavailable = errors.New("identity: provider unavailable")
)

// Custom claim keys pushed to the identity provider and read back out of
// verified tokens.
const (
	ClaimRole      = "role"
	ClaimOrgID     = "org_id"
	ClaimAccountID = "platform_user_id"
)

// Principal is the verified identity attached to a request. It is built
// from a decoded token at the boundary and never stored.
type Principal struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string

	// Claims are the custom claims embedded in the verified token
	// (role, org_id). Authorization decisions use only these.
	Claims map[string]interface{}
}

// Role returns the role custom claim, or "" if absent.
func (p *Principal) Role() string {
	if s, ok := p.Claims[ClaimRole].(string); ok {
		return s
	}
	return ""
}

// OrgID returns the organization custom claim, or "" if absent.
func (p *Principal) OrgID() string {
	if s, ok := p.Claims[ClaimOrgID].(string); ok {
		return s
	}
	return ""
}

// Provider verifies tokens and manages users in the external identity store.
type Provider interface {
	// VerifyToken validates a bearer token and returns the principal it
	// identifies. Returns ErrInvalidToken for bad, expired, or revoked tokens.
	VerifyToken(ctx context.Context, token string) (*Principal, error)

	// GetClaims returns the user's current custom claims (may be nil).
	GetClaims(ctx context.Context, externalID string) (map[string]interface{}, error)

	// SetClaims replaces the user's custom claims wholesale. Callers that
	// need merge semantics go through Propagator.
	SetClaims(ctx context.Context, externalID string, claims map[string]interface{}) error

	// DeleteUser removes the user from the identity provider.
	DeleteUser(ctx context.Context, externalID string) error
}
