package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seatsync/seatsync/internal/metrics"
	"github.com/seatsync/seatsync/internal/retry"
)

// Propagator pushes role/tenant facts into the identity provider's
// custom-claims store so future token verifications reflect current
// authorization state. All calls happen after the local transaction has
// committed; a failure here leaves the provider's view stale, never the
// database inconsistent.
type Propagator struct {
	provider Provider
	logger   *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
}

// NewPropagator creates a claims propagator over the given provider.
func NewPropagator(provider Provider, logger *slog.Logger) *Propagator {
	return &Propagator{
		provider:    provider,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
	}
}

// Propagate merges the given claims into the user's existing custom
// claims. Unrelated keys are preserved; merge is read-modify-write, so
// the whole sequence is retried as a unit on transient failures.
func (p *Propagator) Propagate(ctx context.Context, externalID string, claims map[string]interface{}) error {
	err := retry.Do(ctx, p.maxAttempts, p.baseDelay, func() error {
		existing, err := p.provider.GetClaims(ctx, externalID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return retry.Permanent(err)
			}
			return err
		}

		merged := make(map[string]interface{}, len(existing)+len(claims))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range claims {
			merged[k] = v
		}

		if err := p.provider.SetClaims(ctx, externalID, merged); err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		metrics.ClaimsPropagationFailuresTotal.Inc()
		p.logger.Error("claims propagation failed",
			"external_id", externalID,
			"error", err,
		)
		return fmt.Errorf("propagate claims for %s: %w", externalID, err)
	}
	return nil
}

// Revoke deletes the user from the identity provider. Best-effort:
// failures are logged and swallowed so account removal is never blocked
// by an unreachable provider.
func (p *Propagator) Revoke(ctx context.Context, externalID string) {
	if err := p.provider.DeleteUser(ctx, externalID); err != nil && !errors.Is(err, ErrUserNotFound) {
		p.logger.Warn("identity revocation failed, continuing",
			"external_id", externalID,
			"error", err,
		)
	}
}
