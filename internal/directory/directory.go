// Package directory owns the local view of accounts and organizations.
//
// An account maps one external identity principal to at most one
// organization. The seat-limit invariant (member count never exceeds the
// organization's seat limit) is enforced here, inside the store
// transaction, so no interleaving of concurrent admissions can bypass it.
package directory

import (
	"errors"
	"time"

	"github.com/seatsync/seatsync/internal/plan"
)

// Errors
var (
	ErrAccountNotFound       = errors.New("directory: account not found")
	ErrAccountExists         = errors.New("directory: account already exists for external id")
	ErrOrgNotFound           = errors.New("directory: organization not found")
	ErrSeatLimitReached      = errors.New("directory: seat limit reached")
	ErrInvalidSeatLimit      = errors.New("directory: seat limit must be at least 1")
	ErrAlreadyInOrganization = errors.New("directory: account already belongs to an organization")
)

// Role is an account's role within its organization.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Account is the internal identity for one external principal.
type Account struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Picture    string    `json:"picture,omitempty"`
	Role       Role      `json:"role"`
	// OrganizationID is empty for unaffiliated accounts. Once set it only
	// changes by deleting the account.
	OrganizationID string    `json:"organizationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Organization is a tenant.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      plan.Plan `json:"plan"`
	SeatLimit int       `json:"seatLimit"`
	// Stripe references are empty until the first checkout.
	StripeCustomerID     string    `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// OrgUpdate describes a partial update to an organization's billing state.
// Zero values leave the corresponding field unchanged.
type OrgUpdate struct {
	Plan           plan.Plan
	SeatLimit      int
	CustomerID     string
	SubscriptionID string
}
