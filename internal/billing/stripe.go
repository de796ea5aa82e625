package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// metadataOrgKey is the customer metadata key carrying the organization
// id. VerifyCheckoutSession depends on it to resolve a paid session back
// to the tenant.
const metadataOrgKey = "orgId"

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	sc *client.API
}

// NewStripeGateway creates a Gateway backed by the given secret key.
func NewStripeGateway(secretKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, orgID, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata(metadataOrgKey, orgID)

	cust, err := g.sc.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID string, quantity int64, successURL, cancelURL string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:            stripe.String(customerID),
		SuccessURL:          stripe.String(successURL),
		CancelURL:           stripe.String(cancelURL),
		AllowPromotionCodes: stripe.Bool(true),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	params.Context = ctx

	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) CheckoutResult(ctx context.Context, sessionID string) (*CheckoutResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	params.AddExpand("customer")

	sess, err := g.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	if !sessionCompleted(sess) {
		return nil, ErrPaymentNotCompleted
	}
	if sess.Subscription == nil {
		return nil, ErrSubscriptionNotFound
	}
	if sess.Subscription.Items == nil || len(sess.Subscription.Items.Data) == 0 {
		return nil, ErrSubscriptionItemsEmpty
	}
	if sess.Customer == nil {
		return nil, ErrCustomerNotFound
	}
	orgID := sess.Customer.Metadata[metadataOrgKey]
	if orgID == "" {
		return nil, ErrOrgMetadataMissing
	}

	item := sess.Subscription.Items.Data[0]
	return &CheckoutResult{
		OrgID:          orgID,
		CustomerID:     sess.Customer.ID,
		SubscriptionID: sess.Subscription.ID,
		PriceID:        item.Price.ID,
		SeatQuantity:   item.Quantity,
	}, nil
}

// sessionCompleted gates on mode and completion status, not
// payment_status: zero-cost checkouts (full promotion codes, trials)
// finish as complete with payment_status no_payment_required.
func sessionCompleted(sess *stripe.CheckoutSession) bool {
	return sess.Mode == stripe.CheckoutSessionModeSubscription &&
		sess.Status == stripe.CheckoutSessionStatusComplete
}

func (g *StripeGateway) Subscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.sc.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("retrieve subscription: %w", err)
	}
	return fromStripeSubscription(sub)
}

func (g *StripeGateway) UpdateSubscriptionItem(ctx context.Context, subscriptionID, itemID, priceID string, quantity int64) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		ProrationBehavior: stripe.String(string(stripe.SubscriptionSchedulePhaseProrationBehaviorCreateProrations)),
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(itemID),
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	params.Context = ctx

	sub, err := g.sc.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return fromStripeSubscription(sub)
}

func (g *StripeGateway) PaymentInfo(ctx context.Context, customerID string) (*PaymentInfo, error) {
	card, err := g.defaultCard(ctx, customerID)
	if err != nil {
		return nil, err
	}
	invoices, err := g.invoices(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &PaymentInfo{Card: card, Invoices: invoices}, nil
}

// defaultCard returns the customer's default payment card, falling back
// to the first card on file when no default is set. A customer with no
// cards fails with ErrNoPaymentMethod.
func (g *StripeGateway) defaultCard(ctx context.Context, customerID string) (*Card, error) {
	custParams := &stripe.CustomerParams{}
	custParams.Context = ctx
	custParams.AddExpand("invoice_settings.default_payment_method")

	cust, err := g.sc.Customers.Get(customerID, custParams)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("retrieve customer: %w", err)
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		if c := cardFromPaymentMethod(cust.InvoiceSettings.DefaultPaymentMethod); c != nil {
			return c, nil
		}
	}

	listParams := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	listParams.Context = ctx
	iter := g.sc.PaymentMethods.List(listParams)
	for iter.Next() {
		if c := cardFromPaymentMethod(iter.PaymentMethod()); c != nil {
			return c, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return nil, ErrNoPaymentMethod
}

func (g *StripeGateway) invoices(ctx context.Context, customerID string) ([]Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	invoices := []Invoice{}
	iter := g.sc.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		invoices = append(invoices, Invoice{
			ID:         inv.ID,
			Number:     inv.Number,
			Status:     string(inv.Status),
			AmountPaid: float64(inv.AmountPaid) / 100,
			AmountDue:  float64(inv.AmountDue) / 100,
			Currency:   string(inv.Currency),
			HostedURL:  inv.HostedInvoiceURL,
			PDFURL:     inv.InvoicePDF,
			CreatedAt:  time.Unix(inv.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

func (g *StripeGateway) PortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := g.sc.BillingPortalSessions.New(params)
	if err != nil {
		if isResourceMissing(err) {
			return "", ErrCustomerNotFound
		}
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

func fromStripeSubscription(sub *stripe.Subscription) (*Subscription, error) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, ErrSubscriptionItemsEmpty
	}
	item := sub.Items.Data[0]
	return &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		ItemID:   item.ID,
		PriceID:  item.Price.ID,
		Quantity: item.Quantity,
	}, nil
}

func cardFromPaymentMethod(pm *stripe.PaymentMethod) *Card {
	if pm == nil || pm.Card == nil {
		return nil
	}
	return &Card{
		Brand:    string(pm.Card.Brand),
		Last4:    pm.Card.Last4,
		ExpMonth: pm.Card.ExpMonth,
		ExpYear:  pm.Card.ExpYear,
	}
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

var _ Gateway = (*StripeGateway)(nil)
