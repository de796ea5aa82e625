// Package lifecycle implements the tenant lifecycle operations: signup,
// invite-based admission, removal, organization creation, and the
// checkout → verify → update subscription flow.
//
// Every operation commits local state first, inside one store
// transaction, and only then performs external calls (payment provider,
// claims propagation). External failures after commit surface as
// partial-success results, never as rollbacks; cross-system consistency
// is restored by idempotent re-application (VerifyCheckoutSession) or a
// later claims push.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seatsync/seatsync/internal/billing"
	"github.com/seatsync/seatsync/internal/directory"
	"github.com/seatsync/seatsync/internal/identity"
	"github.com/seatsync/seatsync/internal/idgen"
	"github.com/seatsync/seatsync/internal/metrics"
	"github.com/seatsync/seatsync/internal/plan"
	"github.com/seatsync/seatsync/internal/traces"
)

// Errors
var (
	ErrEmailNotVerified         = errors.New("lifecycle: email not verified")
	ErrUserNotProvisioned       = errors.New("lifecycle: user not provisioned")
	ErrSelfRemoval              = errors.New("lifecycle: cannot remove yourself")
	ErrForbidden                = errors.New("lifecycle: forbidden")
	ErrAdminProtected           = errors.New("lifecycle: admins cannot be removed")
	ErrOrgMismatch              = errors.New("lifecycle: organization does not match token claims")
	ErrInvalidPlan              = errors.New("lifecycle: unknown plan")
	ErrNoSubscription           = errors.New("lifecycle: organization has no subscription")
	ErrNoCustomer               = errors.New("lifecycle: organization has no billing customer")
	ErrQuantityBelowMinimum     = errors.New("lifecycle: seat quantity must be at least 1")
	ErrQuantityBelowActiveUsers = errors.New("lifecycle: seat quantity below active member count")
)

// AlreadyProvisionedError reports that an account already maps to the
// external identity. It carries the existing account id so clients can
// branch instead of retrying.
type AlreadyProvisionedError struct {
	AccountID string
}

func (e *AlreadyProvisionedError) Error() string {
	return "lifecycle: account already exists for this identity"
}

// Service orchestrates the directory, the billing gateway, and the
// claims propagator.
type Service struct {
	store      directory.Store
	gateway    billing.Gateway
	propagator *identity.Propagator
	catalog    *plan.Catalog
	logger     *slog.Logger

	successURL string
	cancelURL  string
	portalURL  string
}

// NewService creates the lifecycle service. frontendURL anchors the
// checkout success/cancel and billing portal return URLs.
func NewService(store directory.Store, gateway billing.Gateway, propagator *identity.Propagator, catalog *plan.Catalog, frontendURL string, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		gateway:    gateway,
		propagator: propagator,
		catalog:    catalog,
		logger:     logger,
		successURL: frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:  frontendURL + "/billing/cancel",
		portalURL:  frontendURL + "/billing",
	}
}

// SignupResult carries the created account. ClaimsSynced is false when
// the post-commit claims push failed; the account exists either way.
type SignupResult struct {
	Account      *directory.Account `json:"account"`
	ClaimsSynced bool               `json:"claimsSynced"`
}

// Signup provisions an account for a new external identity. The account
// starts as an unaffiliated ADMIN awaiting organization creation.
// A second signup for the same identity fails; the first account is
// left untouched.
func (s *Service) Signup(ctx context.Context, principal *identity.Principal) (*SignupResult, error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.Signup", traces.ExternalID(principal.ExternalID))
	defer span.End()

	if existing, err := s.store.AccountByExternalID(ctx, principal.ExternalID); err == nil {
		metrics.SignupsTotal.WithLabelValues("conflict").Inc()
		return nil, &AlreadyProvisionedError{AccountID: existing.ID}
	} else if !errors.Is(err, directory.ErrAccountNotFound) {
		metrics.SignupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	account := s.newAccount(principal, directory.RoleAdmin)
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, directory.ErrAccountExists) {
			// Lost a race with a concurrent signup for the same identity.
			metrics.SignupsTotal.WithLabelValues("conflict").Inc()
			if existing, lookupErr := s.store.AccountByExternalID(ctx, principal.ExternalID); lookupErr == nil {
				return nil, &AlreadyProvisionedError{AccountID: existing.ID}
			}
			return nil, &AlreadyProvisionedError{}
		}
		metrics.SignupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SignupsTotal.WithLabelValues("success").Inc()

	synced := s.pushClaims(ctx, account)
	return &SignupResult{Account: account, ClaimsSynced: synced}, nil
}

// AcceptInvite admits a new identity into an existing organization as a
// USER, consuming one seat. The seat check and the account insert run in
// one store transaction, so concurrent acceptances cannot oversubscribe.
func (s *Service) AcceptInvite(ctx context.Context, principal *identity.Principal, orgID string) (*SignupResult, error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.AcceptInvite",
		traces.ExternalID(principal.ExternalID), traces.OrgID(orgID))
	defer span.End()

	if !principal.EmailVerified {
		metrics.AdmissionsTotal.WithLabelValues("email_not_verified").Inc()
		return nil, ErrEmailNotVerified
	}
	if existing, err := s.store.AccountByExternalID(ctx, principal.ExternalID); err == nil {
		metrics.AdmissionsTotal.WithLabelValues("conflict").Inc()
		return nil, &AlreadyProvisionedError{AccountID: existing.ID}
	} else if !errors.Is(err, directory.ErrAccountNotFound) {
		metrics.AdmissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	account := s.newAccount(principal, directory.RoleUser)
	if err := s.store.AdmitMember(ctx, orgID, account); err != nil {
		switch {
		case errors.Is(err, directory.ErrSeatLimitReached):
			metrics.AdmissionsTotal.WithLabelValues("seat_limit").Inc()
			metrics.SeatLimitRejectionsTotal.Inc()
		case errors.Is(err, directory.ErrOrgNotFound):
			metrics.AdmissionsTotal.WithLabelValues("org_not_found").Inc()
		case errors.Is(err, directory.ErrAccountExists):
			metrics.AdmissionsTotal.WithLabelValues("conflict").Inc()
			return nil, &AlreadyProvisionedError{}
		default:
			metrics.AdmissionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.AdmissionsTotal.WithLabelValues("success").Inc()

	synced := s.pushClaims(ctx, account)
	return &SignupResult{Account: account, ClaimsSynced: synced}, nil
}

// RemoveUser deletes a member of the requester's own organization.
// Self-removal is forbidden, as is removing an ADMIN (protects the
// tenant owner) or anyone outside the requester's organization. Identity
// revocation is best-effort after the local delete.
func (s *Service) RemoveUser(ctx context.Context, requesterExternalID, targetAccountID string) error {
	ctx, span := traces.StartSpan(ctx, "lifecycle.RemoveUser", traces.AccountID(targetAccountID))
	defer span.End()

	target, err := s.store.Account(ctx, targetAccountID)
	if err != nil {
		return err
	}
	requester, err := s.store.AccountByExternalID(ctx, requesterExternalID)
	if err != nil {
		if errors.Is(err, directory.ErrAccountNotFound) {
			return ErrForbidden
		}
		return err
	}
	if requester.ID == target.ID {
		return ErrSelfRemoval
	}
	if requester.OrganizationID == "" || requester.OrganizationID != target.OrganizationID {
		return ErrForbidden
	}
	if target.Role == directory.RoleAdmin {
		return ErrAdminProtected
	}

	if err := s.store.DeleteAccount(ctx, target.ID); err != nil {
		return err
	}
	s.propagator.Revoke(ctx, target.ExternalID)
	return nil
}

// CreateOrganizationResult is a partial-success payload: the
// organization always exists on success, but the checkout session or
// the claims push may have failed after the local commit. CheckoutError
// carries the reason so the caller can retry that step alone.
type CreateOrganizationResult struct {
	Organization  *directory.Organization  `json:"organization"`
	Checkout      *billing.CheckoutSession `json:"checkout,omitempty"`
	CheckoutError string                   `json:"checkoutError,omitempty"`
	ClaimsSynced  bool                     `json:"claimsSynced"`
}

// CreateOrganization creates a tenant owned by an existing unaffiliated
// account, promoting it to ADMIN. After the local commit it creates the
// billing customer and a hosted checkout session for the chosen plan.
func (s *Service) CreateOrganization(ctx context.Context, principal *identity.Principal, name string, p plan.Plan, seats int) (*CreateOrganizationResult, error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.CreateOrganization", traces.ExternalID(principal.ExternalID))
	defer span.End()

	if !principal.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if !plan.Valid(p) {
		return nil, ErrInvalidPlan
	}
	if seats < 1 {
		return nil, directory.ErrInvalidSeatLimit
	}
	account, err := s.store.AccountByExternalID(ctx, principal.ExternalID)
	if err != nil {
		if errors.Is(err, directory.ErrAccountNotFound) {
			return nil, ErrUserNotProvisioned
		}
		return nil, err
	}

	org := &directory.Organization{
		ID:        idgen.WithPrefix("org_"),
		Name:      name,
		Plan:      p,
		SeatLimit: seats,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	if err := s.store.CreateOrganizationForOwner(ctx, org, account.ID); err != nil {
		return nil, err
	}

	result := &CreateOrganizationResult{Organization: org}

	// Post-commit phase. The organization exists from here on no matter
	// what the payment provider does.
	if sess, err := s.startCheckout(ctx, org, account.Email, seats); err != nil {
		s.logger.Error("checkout session creation failed after org commit",
			"org_id", org.ID,
			"error", err,
		)
		result.CheckoutError = "checkout_session_failed"
	} else {
		result.Checkout = sess
	}

	account.Role = directory.RoleAdmin
	account.OrganizationID = org.ID
	result.ClaimsSynced = s.pushClaims(ctx, account)
	return result, nil
}

// startCheckout creates the billing customer (stamped with the org id)
// and opens a checkout session for the organization's plan.
func (s *Service) startCheckout(ctx context.Context, org *directory.Organization, email string, seats int) (*billing.CheckoutSession, error) {
	customerID, err := s.gateway.CreateCustomer(ctx, org.ID, org.Name, email)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	updated, err := s.store.UpdateOrganization(ctx, org.ID, directory.OrgUpdate{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("persist customer id: %w", err)
	}
	*org = *updated

	sess, err := s.gateway.CreateCheckoutSession(ctx, customerID, s.catalog.PriceID(org.Plan), int64(seats), s.successURL, s.cancelURL)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

// MyOrganization bundles the organization with its member list, ordered
// by name.
type MyOrganization struct {
	Organization *directory.Organization `json:"organization"`
	Members      []*directory.Account    `json:"members"`
}

// GetMyOrganization returns the requester's organization and members.
// When the token carries an org claim it must match the stored
// affiliation; a mismatch means the claims are stale or forged. An
// absent claim is allowed: pushed claims only land in tokens on
// refresh, so a freshly created org must be readable before the client
// re-authenticates.
func (s *Service) GetMyOrganization(ctx context.Context, principal *identity.Principal) (*MyOrganization, error) {
	account, err := s.store.AccountByExternalID(ctx, principal.ExternalID)
	if err != nil {
		if errors.Is(err, directory.ErrAccountNotFound) {
			return nil, ErrUserNotProvisioned
		}
		return nil, err
	}
	if account.OrganizationID == "" {
		return nil, directory.ErrOrgNotFound
	}
	if claimed := principal.OrgID(); claimed != "" && claimed != account.OrganizationID {
		return nil, ErrOrgMismatch
	}

	org, err := s.store.Organization(ctx, account.OrganizationID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	return &MyOrganization{Organization: org, Members: members}, nil
}

// CheckOrganizationExists reports whether the organization exists,
// returning its name when it does. Used by invite links before the
// invitee has any account.
func (s *Service) CheckOrganizationExists(ctx context.Context, orgID string) (bool, string, error) {
	org, err := s.store.Organization(ctx, orgID)
	if err != nil {
		if errors.Is(err, directory.ErrOrgNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, org.Name, nil
}

// VerifyCheckoutSession reconciles a completed checkout session onto the
// owning organization: plan from the remote price (base plan when the
// price matches no catalog entry), seat limit from the remote line-item
// quantity, plus the customer and subscription references. Idempotent:
// repeated calls with the same session converge to the same state.
func (s *Service) VerifyCheckoutSession(ctx context.Context, sessionID string) (*directory.Organization, error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.VerifyCheckoutSession", traces.SessionID(sessionID))
	defer span.End()

	res, err := s.gateway.CheckoutResult(ctx, sessionID)
	if err != nil {
		metrics.CheckoutVerificationsTotal.WithLabelValues(verifyResultLabel(err)).Inc()
		return nil, err
	}

	p := s.catalog.PlanForPrice(res.PriceID)
	seatLimit := int(res.SeatQuantity)
	if seatLimit < 1 {
		seatLimit = plan.DefaultSeatLimit(p)
	}

	org, err := s.store.UpdateOrganization(ctx, res.OrgID, directory.OrgUpdate{
		Plan:           p,
		SeatLimit:      seatLimit,
		CustomerID:     res.CustomerID,
		SubscriptionID: res.SubscriptionID,
	})
	if err != nil {
		metrics.CheckoutVerificationsTotal.WithLabelValues("org_not_found").Inc()
		return nil, err
	}
	metrics.CheckoutVerificationsTotal.WithLabelValues("success").Inc()
	return org, nil
}

// UpdateSubscription changes the requester organization's plan and/or
// seat quantity with prorations. The remote update is the source of
// truth: the local write uses the quantity and price the gateway reports
// back, not the requested values. Zero values keep the current plan or
// quantity.
func (s *Service) UpdateSubscription(ctx context.Context, requesterExternalID string, newPlan plan.Plan, newSeats int) (*directory.Organization, error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.UpdateSubscription", traces.ExternalID(requesterExternalID))
	defer span.End()

	org, err := s.orgForExternalID(ctx, requesterExternalID)
	if err != nil {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if org.StripeSubscriptionID == "" {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("no_subscription").Inc()
		return nil, ErrNoSubscription
	}
	span.SetAttributes(traces.OrgID(org.ID), traces.SubscriptionID(org.StripeSubscriptionID))
	if newPlan != "" && !plan.Valid(newPlan) {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("invalid_plan").Inc()
		return nil, ErrInvalidPlan
	}

	sub, err := s.gateway.Subscription(ctx, org.StripeSubscriptionID)
	if err != nil {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	nextQuantity := sub.Quantity
	if newSeats != 0 {
		nextQuantity = int64(newSeats)
	}
	if nextQuantity < 1 {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("quantity_too_low").Inc()
		return nil, ErrQuantityBelowMinimum
	}

	// Fresh member count, never a cached value: seats may not shrink
	// below current membership.
	members, err := s.store.CountMembers(ctx, org.ID)
	if err != nil {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if int(nextQuantity) < members {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("quantity_below_members").Inc()
		return nil, ErrQuantityBelowActiveUsers
	}

	priceID := sub.PriceID
	if newPlan != "" {
		priceID = s.catalog.PriceID(newPlan)
	}
	updated, err := s.gateway.UpdateSubscriptionItem(ctx, sub.ID, sub.ItemID, priceID, nextQuantity)
	if err != nil {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result, err := s.store.UpdateOrganization(ctx, org.ID, directory.OrgUpdate{
		Plan:           s.catalog.PlanForPrice(updated.PriceID),
		SeatLimit:      int(updated.Quantity),
		SubscriptionID: updated.ID,
	})
	if err != nil {
		metrics.SubscriptionUpdatesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SubscriptionUpdatesTotal.WithLabelValues("success").Inc()
	return result, nil
}

// CreateBillingPortalSession opens a self-serve billing portal session
// for the requester's organization.
func (s *Service) CreateBillingPortalSession(ctx context.Context, requesterExternalID string) (string, error) {
	org, err := s.orgForExternalID(ctx, requesterExternalID)
	if err != nil {
		return "", err
	}
	if org.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}
	return s.gateway.PortalSession(ctx, org.StripeCustomerID, s.portalURL)
}

// GetPaymentInfo returns the default card and invoice history for the
// requester's organization.
func (s *Service) GetPaymentInfo(ctx context.Context, requesterExternalID string) (*billing.PaymentInfo, error) {
	org, err := s.orgForExternalID(ctx, requesterExternalID)
	if err != nil {
		return nil, err
	}
	if org.StripeCustomerID == "" {
		return nil, ErrNoCustomer
	}
	return s.gateway.PaymentInfo(ctx, org.StripeCustomerID)
}

func (s *Service) orgForExternalID(ctx context.Context, externalID string) (*directory.Organization, error) {
	account, err := s.store.AccountByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, directory.ErrAccountNotFound) {
			return nil, ErrUserNotProvisioned
		}
		return nil, err
	}
	if account.OrganizationID == "" {
		return nil, directory.ErrOrgNotFound
	}
	return s.store.Organization(ctx, account.OrganizationID)
}

func (s *Service) newAccount(principal *identity.Principal, role directory.Role) *directory.Account {
	ts := now()
	return &directory.Account{
		ID:         idgen.WithPrefix("usr_"),
		ExternalID: principal.ExternalID,
		Email:      principal.Email,
		Name:       principal.Name,
		Picture:    principal.Picture,
		Role:       role,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

// pushClaims propagates the account's role, org, and internal id as
// custom claims. Returns false on failure; the caller reports partial
// success instead of rolling back.
func (s *Service) pushClaims(ctx context.Context, account *directory.Account) bool {
	claims := map[string]interface{}{
		identity.ClaimRole:      string(account.Role),
		identity.ClaimAccountID: account.ID,
	}
	if account.OrganizationID != "" {
		claims[identity.ClaimOrgID] = account.OrganizationID
	}
	return s.propagator.Propagate(ctx, account.ExternalID, claims) == nil
}

func now() time.Time {
	return time.Now().UTC()
}

func verifyResultLabel(err error) string {
	switch {
	case errors.Is(err, billing.ErrPaymentNotCompleted):
		return "not_paid"
	case errors.Is(err, billing.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, billing.ErrOrgMetadataMissing):
		return "org_metadata_missing"
	default:
		return "error"
	}
}
