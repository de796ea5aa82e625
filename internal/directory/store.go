package directory

import "context"

// Store persists accounts and organizations.
type Store interface {
	// CreateAccount inserts an unaffiliated account. Returns
	// ErrAccountExists if the external id is already mapped.
	CreateAccount(ctx context.Context, a *Account) error
	Account(ctx context.Context, id string) (*Account, error)
	AccountByExternalID(ctx context.Context, externalID string) (*Account, error)
	DeleteAccount(ctx context.Context, id string) error

	// AdmitMember creates the account as a member of the organization.
	// The seat check and the insert run in one transaction: two
	// concurrent admissions racing for the last seat result in exactly
	// one success and one ErrSeatLimitReached.
	AdmitMember(ctx context.Context, orgID string, a *Account) error
	CountMembers(ctx context.Context, orgID string) (int, error)
	// ListMembers returns the organization's accounts ordered by name.
	ListMembers(ctx context.Context, orgID string) ([]*Account, error)

	// CreateOrganizationForOwner inserts the organization and promotes
	// the owner account to ADMIN with the new org reference, in one
	// transaction. Returns ErrAlreadyInOrganization if the owner is
	// already affiliated.
	CreateOrganizationForOwner(ctx context.Context, o *Organization, ownerAccountID string) error
	Organization(ctx context.Context, id string) (*Organization, error)
	// UpdateOrganization applies the non-zero fields of upd and returns
	// the updated organization.
	UpdateOrganization(ctx context.Context, orgID string, upd OrgUpdate) (*Organization, error)
}
