package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatsync/seatsync/internal/billing"
	"github.com/seatsync/seatsync/internal/directory"
	"github.com/seatsync/seatsync/internal/identity"
	"github.com/seatsync/seatsync/internal/plan"
)

type fixture struct {
	svc      *Service
	store    *directory.MemoryStore
	gateway  *billing.MemoryGateway
	provider *identity.MemoryProvider
}

func newFixture() *fixture {
	store := directory.NewMemoryStore()
	gateway := billing.NewMemoryGateway()
	provider := identity.NewMemoryProvider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := plan.NewCatalog(plan.Prices{
		BasicMonth:    "price_basic_m",
		BasicYear:     "price_basic_y",
		AdvancedMonth: "price_adv_m",
		AdvancedYear:  "price_adv_y",
		PremiumMonth:  "price_prem_m",
		PremiumYear:   "price_prem_y",
	})
	svc := NewService(store, gateway, identity.NewPropagator(provider, logger), catalog, "https://app.example.com", logger)
	return &fixture{svc: svc, store: store, gateway: gateway, provider: provider}
}

func (f *fixture) principal(externalID string, verified bool) *identity.Principal {
	p := &identity.Principal{
		ExternalID:    externalID,
		Email:         externalID + "@example.com",
		EmailVerified: verified,
		Name:          "User " + externalID,
	}
	// Register the backing user so claims pushes land.
	f.provider.AddToken("tok-"+externalID, p)
	return p
}

// ownerWithOrg signs up an owner and creates an organization for it.
func (f *fixture) ownerWithOrg(t *testing.T, externalID string, p plan.Plan, seats int) *CreateOrganizationResult {
	t.Helper()
	ctx := context.Background()
	owner := f.principal(externalID, true)
	_, err := f.svc.Signup(ctx, owner)
	require.NoError(t, err)
	result, err := f.svc.CreateOrganization(ctx, owner, "Org of "+externalID, p, seats)
	require.NoError(t, err)
	return result
}

func TestSignup(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p := f.principal("ext-1", true)

	result, err := f.svc.Signup(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, directory.RoleAdmin, result.Account.Role)
	assert.Empty(t, result.Account.OrganizationID)
	assert.True(t, result.ClaimsSynced)

	claims := f.provider.Claims("ext-1")
	assert.Equal(t, "ADMIN", claims[identity.ClaimRole])
	assert.Equal(t, result.Account.ID, claims[identity.ClaimAccountID])

	// Second signup fails and leaves the first account unchanged.
	_, err = f.svc.Signup(ctx, p)
	var provisioned *AlreadyProvisionedError
	require.ErrorAs(t, err, &provisioned)
	assert.Equal(t, result.Account.ID, provisioned.AccountID)

	stored, err := f.store.Account(ctx, result.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Account.Email, stored.Email)
}

func TestSignup_ClaimsPushFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p := f.principal("ext-1", true)
	f.provider.FailSetClaims = true

	result, err := f.svc.Signup(ctx, p)
	require.NoError(t, err)
	assert.False(t, result.ClaimsSynced)

	// The account committed regardless of the claims push.
	_, err = f.store.AccountByExternalID(ctx, "ext-1")
	assert.NoError(t, err)
}

func TestAcceptInvite(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	org := f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 3).Organization

	t.Run("unverified email is rejected", func(t *testing.T) {
		_, err := f.svc.AcceptInvite(ctx, f.principal("ext-unverified", false), org.ID)
		assert.ErrorIs(t, err, ErrEmailNotVerified)
	})

	t.Run("unknown org", func(t *testing.T) {
		_, err := f.svc.AcceptInvite(ctx, f.principal("ext-lost", true), "org-missing")
		assert.ErrorIs(t, err, directory.ErrOrgNotFound)
	})

	t.Run("success admits a USER with org claims", func(t *testing.T) {
		result, err := f.svc.AcceptInvite(ctx, f.principal("ext-member", true), org.ID)
		require.NoError(t, err)
		assert.Equal(t, directory.RoleUser, result.Account.Role)
		assert.Equal(t, org.ID, result.Account.OrganizationID)
		assert.True(t, result.ClaimsSynced)

		claims := f.provider.Claims("ext-member")
		assert.Equal(t, "USER", claims[identity.ClaimRole])
		assert.Equal(t, org.ID, claims[identity.ClaimOrgID])
	})

	t.Run("existing identity cannot accept again", func(t *testing.T) {
		p := f.principal("ext-member", true)
		_, err := f.svc.AcceptInvite(ctx, p, org.ID)
		var provisioned *AlreadyProvisionedError
		assert.ErrorAs(t, err, &provisioned)
	})
}

func TestAcceptInvite_SeatLimitReached(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	// Seat limit 1: the owner holds the only seat.
	org := f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 1).Organization

	_, err := f.svc.AcceptInvite(ctx, f.principal("ext-late", true), org.ID)
	assert.ErrorIs(t, err, directory.ErrSeatLimitReached)

	// No account was created for the rejected invitee.
	_, err = f.store.AccountByExternalID(ctx, "ext-late")
	assert.ErrorIs(t, err, directory.ErrAccountNotFound)
}

func TestAcceptInvite_ConcurrentLastSeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	// Seat limit 2: owner plus exactly one more.
	org := f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 2).Organization

	const contenders = 12
	principals := make([]*identity.Principal, contenders)
	for i := range principals {
		principals[i] = f.principal(fmt.Sprintf("ext-%d", i), true)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptInvite(ctx, principals[i], org.ID)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
		} else {
			assert.ErrorIs(t, err, directory.ErrSeatLimitReached)
		}
	}
	assert.Equal(t, 1, admitted, "exactly one invite wins the last seat")

	n, err := f.store.CountMembers(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRemoveUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	org := f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 5).Organization

	member, err := f.svc.AcceptInvite(ctx, f.principal("ext-member", true), org.ID)
	require.NoError(t, err)
	owner, err := f.store.AccountByExternalID(ctx, "ext-owner")
	require.NoError(t, err)

	f.ownerWithOrg(t, "ext-stranger", plan.BasicMonth, 3)
	stranger, err := f.store.AccountByExternalID(ctx, "ext-stranger")
	require.NoError(t, err)

	t.Run("target not found", func(t *testing.T) {
		err := f.svc.RemoveUser(ctx, "ext-owner", "acc-missing")
		assert.ErrorIs(t, err, directory.ErrAccountNotFound)
	})

	t.Run("unknown requester is forbidden", func(t *testing.T) {
		err := f.svc.RemoveUser(ctx, "ext-nobody", member.Account.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("self removal is forbidden regardless of role", func(t *testing.T) {
		err := f.svc.RemoveUser(ctx, "ext-owner", owner.ID)
		assert.ErrorIs(t, err, ErrSelfRemoval)
	})

	t.Run("cross-tenant removal is forbidden", func(t *testing.T) {
		err := f.svc.RemoveUser(ctx, "ext-stranger", member.Account.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("admins cannot be removed", func(t *testing.T) {
		// stranger is the ADMIN of the other org; a member of that org
		// cannot remove them.
		_, err := f.svc.AcceptInvite(ctx, f.principal("ext-other-member", true), stranger.OrganizationID)
		require.NoError(t, err)
		err = f.svc.RemoveUser(ctx, "ext-other-member", stranger.ID)
		assert.ErrorIs(t, err, ErrAdminProtected)
	})

	t.Run("success deletes account and revokes identity", func(t *testing.T) {
		require.NoError(t, f.svc.RemoveUser(ctx, "ext-owner", member.Account.ID))

		_, err := f.store.Account(ctx, member.Account.ID)
		assert.ErrorIs(t, err, directory.ErrAccountNotFound)
		assert.False(t, f.provider.HasUser("ext-member"))
	})

	t.Run("revocation failure does not block deletion", func(t *testing.T) {
		victim, err := f.svc.AcceptInvite(ctx, f.principal("ext-victim", true), org.ID)
		require.NoError(t, err)

		f.provider.FailDeleteUser = true
		defer func() { f.provider.FailDeleteUser = false }()

		require.NoError(t, f.svc.RemoveUser(ctx, "ext-owner", victim.Account.ID))
		_, err = f.store.Account(ctx, victim.Account.ID)
		assert.ErrorIs(t, err, directory.ErrAccountNotFound)
	})
}

func TestCreateOrganization(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	t.Run("unverified email", func(t *testing.T) {
		_, err := f.svc.CreateOrganization(ctx, f.principal("ext-unverified", false), "Acme", plan.BasicMonth, 3)
		assert.ErrorIs(t, err, ErrEmailNotVerified)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := f.svc.CreateOrganization(ctx, f.principal("ext-x", true), "Acme", "gold", 3)
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("invalid seat limit", func(t *testing.T) {
		_, err := f.svc.CreateOrganization(ctx, f.principal("ext-x", true), "Acme", plan.BasicMonth, 0)
		assert.ErrorIs(t, err, directory.ErrInvalidSeatLimit)
	})

	t.Run("requires prior signup", func(t *testing.T) {
		_, err := f.svc.CreateOrganization(ctx, f.principal("ext-new", true), "Acme", plan.BasicMonth, 3)
		assert.ErrorIs(t, err, ErrUserNotProvisioned)
	})

	t.Run("success returns org, checkout, and claims", func(t *testing.T) {
		owner := f.principal("ext-acme", true)
		_, err := f.svc.Signup(ctx, owner)
		require.NoError(t, err)

		result, err := f.svc.CreateOrganization(ctx, owner, "Acme", plan.BasicMonth, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Organization.SeatLimit)
		assert.Equal(t, plan.BasicMonth, result.Organization.Plan)
		assert.NotEmpty(t, result.Organization.StripeCustomerID)
		require.NotNil(t, result.Checkout)
		assert.NotEmpty(t, result.Checkout.URL)
		assert.True(t, result.ClaimsSynced)

		claims := f.provider.Claims("ext-acme")
		assert.Equal(t, "ADMIN", claims[identity.ClaimRole])
		assert.Equal(t, result.Organization.ID, claims[identity.ClaimOrgID])

		// Second organization for the same account is rejected.
		_, err = f.svc.CreateOrganization(ctx, owner, "Acme Again", plan.BasicMonth, 3)
		assert.ErrorIs(t, err, directory.ErrAlreadyInOrganization)
	})

	t.Run("checkout failure is partial success", func(t *testing.T) {
		owner := f.principal("ext-partial", true)
		_, err := f.svc.Signup(ctx, owner)
		require.NoError(t, err)

		f.gateway.FailCreateSession = true
		defer func() { f.gateway.FailCreateSession = false }()

		result, err := f.svc.CreateOrganization(ctx, owner, "Partial Inc", plan.BasicMonth, 3)
		require.NoError(t, err)
		assert.Nil(t, result.Checkout)
		assert.Equal(t, "checkout_session_failed", result.CheckoutError)

		// The organization committed before the external phase.
		_, err = f.store.Organization(ctx, result.Organization.ID)
		assert.NoError(t, err)
	})
}

func TestGetMyOrganization(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	org := f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 5).Organization

	_, err := f.svc.AcceptInvite(ctx, f.principal("ext-alice", true), org.ID)
	require.NoError(t, err)

	t.Run("returns org and ordered members", func(t *testing.T) {
		p := f.principal("ext-owner", true)
		result, err := f.svc.GetMyOrganization(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, org.ID, result.Organization.ID)
		require.Len(t, result.Members, 2)
		assert.LessOrEqual(t, result.Members[0].Name, result.Members[1].Name)
	})

	t.Run("absent org claim falls back to stored affiliation", func(t *testing.T) {
		// Tokens issued before the claims push carry no org claim yet.
		p := &identity.Principal{ExternalID: "ext-owner"}
		result, err := f.svc.GetMyOrganization(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, org.ID, result.Organization.ID)
	})

	t.Run("claim mismatch is rejected", func(t *testing.T) {
		p := &identity.Principal{
			ExternalID: "ext-owner",
			Claims:     map[string]interface{}{identity.ClaimOrgID: "org-other"},
		}
		_, err := f.svc.GetMyOrganization(ctx, p)
		assert.ErrorIs(t, err, ErrOrgMismatch)
	})

	t.Run("unaffiliated account", func(t *testing.T) {
		p := f.principal("ext-loner", true)
		_, err := f.svc.Signup(ctx, p)
		require.NoError(t, err)
		_, err = f.svc.GetMyOrganization(ctx, p)
		assert.ErrorIs(t, err, directory.ErrOrgNotFound)
	})
}

func TestCheckOrganizationExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	org := f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 3).Organization

	exists, name, err := f.svc.CheckOrganizationExists(ctx, org.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, org.Name, name)

	exists, name, err = f.svc.CheckOrganizationExists(ctx, "org-missing")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, name)
}

func TestVerifyCheckoutSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	result := f.ownerWithOrg(t, "ext-owner", plan.AdvancedMonth, 6)
	require.NotNil(t, result.Checkout)

	t.Run("unpaid session", func(t *testing.T) {
		_, err := f.svc.VerifyCheckoutSession(ctx, result.Checkout.ID)
		assert.ErrorIs(t, err, billing.ErrPaymentNotCompleted)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.svc.VerifyCheckoutSession(ctx, "cs_missing")
		assert.ErrorIs(t, err, billing.ErrSessionNotFound)
	})

	t.Run("idempotent reconciliation", func(t *testing.T) {
		f.gateway.CompleteSession(result.Checkout.ID)

		first, err := f.svc.VerifyCheckoutSession(ctx, result.Checkout.ID)
		require.NoError(t, err)
		assert.Equal(t, plan.AdvancedMonth, first.Plan)
		assert.Equal(t, 6, first.SeatLimit)
		assert.NotEmpty(t, first.StripeCustomerID)
		assert.NotEmpty(t, first.StripeSubscriptionID)

		second, err := f.svc.VerifyCheckoutSession(ctx, result.Checkout.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Plan, second.Plan)
		assert.Equal(t, first.SeatLimit, second.SeatLimit)
		assert.Equal(t, first.StripeCustomerID, second.StripeCustomerID)
		assert.Equal(t, first.StripeSubscriptionID, second.StripeSubscriptionID)
	})
}

func TestVerifyCheckoutSession_UnknownPriceFallsBackToBasePlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	org := f.ownerWithOrg(t, "ext-owner", plan.PremiumYear, 9).Organization

	f.gateway.AddSession("cs_legacy", &billing.CheckoutResult{
		OrgID:          org.ID,
		CustomerID:     "cus_legacy",
		SubscriptionID: "sub_legacy",
		PriceID:        "price_retired",
		SeatQuantity:   4,
	})

	updated, err := f.svc.VerifyCheckoutSession(ctx, "cs_legacy")
	require.NoError(t, err)
	assert.Equal(t, plan.Base, updated.Plan)
	assert.Equal(t, 4, updated.SeatLimit)
}

func TestUpdateSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	result := f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 3)
	org := result.Organization

	t.Run("no subscription yet", func(t *testing.T) {
		_, err := f.svc.UpdateSubscription(ctx, "ext-owner", plan.AdvancedMonth, 0)
		assert.ErrorIs(t, err, ErrNoSubscription)
	})

	// Complete checkout so the org carries a subscription reference.
	f.gateway.CompleteSession(result.Checkout.ID)
	_, err := f.svc.VerifyCheckoutSession(ctx, result.Checkout.ID)
	require.NoError(t, err)

	t.Run("plan change keeps quantity", func(t *testing.T) {
		updated, err := f.svc.UpdateSubscription(ctx, "ext-owner", plan.AdvancedMonth, 0)
		require.NoError(t, err)
		assert.Equal(t, plan.AdvancedMonth, updated.Plan)
		assert.Equal(t, 3, updated.SeatLimit)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := f.svc.UpdateSubscription(ctx, "ext-owner", "gold", 0)
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("quantity below one", func(t *testing.T) {
		_, err := f.svc.UpdateSubscription(ctx, "ext-owner", "", -1)
		assert.ErrorIs(t, err, ErrQuantityBelowMinimum)
	})

	t.Run("seats never shrink below current members", func(t *testing.T) {
		// Fill up to 3 members, then try to shrink to 2.
		for _, ext := range []string{"ext-m1", "ext-m2"} {
			_, err := f.svc.AcceptInvite(ctx, f.principal(ext, true), org.ID)
			require.NoError(t, err)
		}
		_, err := f.svc.UpdateSubscription(ctx, "ext-owner", "", 2)
		assert.ErrorIs(t, err, ErrQuantityBelowActiveUsers)
	})

	t.Run("seat growth persists the gateway-reported quantity", func(t *testing.T) {
		updated, err := f.svc.UpdateSubscription(ctx, "ext-owner", "", 8)
		require.NoError(t, err)
		assert.Equal(t, 8, updated.SeatLimit)
	})

	t.Run("unknown requester", func(t *testing.T) {
		_, err := f.svc.UpdateSubscription(ctx, "ext-nobody", plan.BasicMonth, 0)
		assert.ErrorIs(t, err, ErrUserNotProvisioned)
	})
}

func TestBillingPortalAndPaymentInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.ownerWithOrg(t, "ext-owner", plan.BasicMonth, 3)

	url, err := f.svc.CreateBillingPortalSession(ctx, "ext-owner")
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	// No card on file yet.
	_, err = f.svc.GetPaymentInfo(ctx, "ext-owner")
	assert.ErrorIs(t, err, billing.ErrNoPaymentMethod)

	owner, err := f.store.AccountByExternalID(ctx, "ext-owner")
	require.NoError(t, err)
	org, err := f.store.Organization(ctx, owner.OrganizationID)
	require.NoError(t, err)
	f.gateway.AddPaymentInfo(org.StripeCustomerID, &billing.PaymentInfo{
		Card: &billing.Card{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030},
	})

	info, err := f.svc.GetPaymentInfo(ctx, "ext-owner")
	require.NoError(t, err)
	require.NotNil(t, info.Card)
	assert.Equal(t, "4242", info.Card.Last4)

	// An owner whose checkout never ran has no customer reference.
	f.gateway.FailCreateCustomer = true
	other := f.ownerWithOrg(t, "ext-poor", plan.BasicMonth, 3)
	require.Empty(t, other.Organization.StripeCustomerID)

	_, err = f.svc.CreateBillingPortalSession(ctx, "ext-poor")
	assert.ErrorIs(t, err, ErrNoCustomer)
	_, err = f.svc.GetPaymentInfo(ctx, "ext-poor")
	assert.ErrorIs(t, err, ErrNoCustomer)
}
