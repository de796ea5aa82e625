package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGateway_CheckoutFlow(t *testing.T) {
	ctx := context.Background()
	gw := NewMemoryGateway()

	custID, err := gw.CreateCustomer(ctx, "org-1", "Acme", "owner@acme.test")
	require.NoError(t, err)

	sess, err := gw.CreateCheckoutSession(ctx, custID, "price_basic_month", 1, "https://app/success", "https://app/cancel")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.URL)

	// Incomplete until the hosted flow finishes.
	_, err = gw.CheckoutResult(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	gw.CompleteSession(sess.ID)

	res, err := gw.CheckoutResult(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "org-1", res.OrgID)
	assert.Equal(t, custID, res.CustomerID)
	assert.Equal(t, "price_basic_month", res.PriceID)
	assert.Equal(t, int64(1), res.SeatQuantity)

	sub, err := gw.Subscription(ctx, res.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, int64(1), sub.Quantity)

	_, err = gw.CheckoutResult(ctx, "cs_unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryGateway_MissingOrgMetadata(t *testing.T) {
	ctx := context.Background()
	gw := NewMemoryGateway()

	gw.AddSession("cs_orphan", &CheckoutResult{
		CustomerID:     "cus_orphan",
		SubscriptionID: "sub_orphan",
		PriceID:        "price_basic_month",
		SeatQuantity:   1,
	})

	_, err := gw.CheckoutResult(ctx, "cs_orphan")
	assert.ErrorIs(t, err, ErrOrgMetadataMissing)
}

func TestMemoryGateway_UpdateSubscriptionItem(t *testing.T) {
	ctx := context.Background()
	gw := NewMemoryGateway()

	gw.AddSubscription(&Subscription{
		ID: "sub_1", Status: "active", ItemID: "si_1",
		PriceID: "price_basic_month", Quantity: 3,
	})

	sub, err := gw.UpdateSubscriptionItem(ctx, "sub_1", "si_1", "price_advanced_month", 6)
	require.NoError(t, err)
	assert.Equal(t, "price_advanced_month", sub.PriceID)
	assert.Equal(t, int64(6), sub.Quantity)

	_, err = gw.UpdateSubscriptionItem(ctx, "sub_missing", "si_x", "price_basic_month", 3)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestMemoryGateway_PortalAndPaymentInfo(t *testing.T) {
	ctx := context.Background()
	gw := NewMemoryGateway()

	custID, err := gw.CreateCustomer(ctx, "org-1", "Acme", "owner@acme.test")
	require.NoError(t, err)

	url, err := gw.PortalSession(ctx, custID, "https://app/billing")
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	_, err = gw.PortalSession(ctx, "cus_missing", "https://app/billing")
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	// A customer with no card on file is a tagged failure, not an
	// empty result.
	_, err = gw.PaymentInfo(ctx, custID)
	assert.ErrorIs(t, err, ErrNoPaymentMethod)

	gw.AddPaymentInfo(custID, &PaymentInfo{
		Card:     &Card{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030},
		Invoices: []Invoice{{ID: "in_1", Status: "paid", AmountPaid: 29.99, Currency: "usd"}},
	})

	info, err := gw.PaymentInfo(ctx, custID)
	require.NoError(t, err)
	require.NotNil(t, info.Card)
	assert.Equal(t, "4242", info.Card.Last4)
	require.Len(t, info.Invoices, 1)
	assert.Equal(t, 29.99, info.Invoices[0].AmountPaid)

	_, err = gw.PaymentInfo(ctx, "cus_missing")
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	gw.AddPaymentInfo(custID, &PaymentInfo{Invoices: []Invoice{{ID: "in_2"}}})
	_, err = gw.PaymentInfo(ctx, custID)
	assert.ErrorIs(t, err, ErrNoPaymentMethod)
}
