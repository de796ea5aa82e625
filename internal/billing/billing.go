// Package billing fronts the payment provider. The lifecycle service
// talks to the Gateway interface; the Stripe implementation lives in
// stripe.go and a scriptable in-memory fake in memory.go.
package billing

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrPaymentNotCompleted    = errors.New("billing: payment not completed")
	ErrSessionNotFound        = errors.New("billing: checkout session not found")
	ErrSubscriptionNotFound   = errors.New("billing: subscription not found")
	ErrSubscriptionItemsEmpty = errors.New("billing: subscription has no items")
	ErrCustomerNotFound       = errors.New("billing: customer not found")
	ErrNoPaymentMethod        = errors.New("billing: customer has no payment method")
	ErrOrgMetadataMissing     = errors.New("billing: customer has no organization metadata")
)

// CheckoutSession is a newly created hosted checkout session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutResult is the outcome of a completed checkout session,
// resolved back to the organization via the customer's metadata.
type CheckoutResult struct {
	OrgID          string
	CustomerID     string
	SubscriptionID string
	PriceID        string
	SeatQuantity   int64
}

// Subscription is the provider-side subscription state the engine
// reconciles against.
type Subscription struct {
	ID       string
	Status   string
	ItemID   string
	PriceID  string
	Quantity int64
}

// Card is the default payment card on file.
type Card struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"expMonth"`
	ExpYear  int64  `json:"expYear"`
}

// Invoice is one past invoice, amounts in major currency units.
type Invoice struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	AmountPaid float64   `json:"amountPaid"`
	AmountDue  float64   `json:"amountDue"`
	Currency   string    `json:"currency"`
	HostedURL  string    `json:"hostedUrl,omitempty"`
	PDFURL     string    `json:"pdfUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PaymentInfo bundles the default card and invoice history.
type PaymentInfo struct {
	Card     *Card     `json:"card,omitempty"`
	Invoices []Invoice `json:"invoices"`
}

// Gateway is the payment provider surface the lifecycle service needs.
type Gateway interface {
	// CreateCustomer creates a customer carrying the organization id in
	// its metadata so completed checkouts can be resolved back to the
	// organization.
	CreateCustomer(ctx context.Context, orgID, name, email string) (customerID string, err error)
	// CreateCheckoutSession starts a hosted subscription checkout for
	// the given price and seat quantity.
	CreateCheckoutSession(ctx context.Context, customerID, priceID string, quantity int64, successURL, cancelURL string) (*CheckoutSession, error)
	// CheckoutResult retrieves a session and returns its resolved
	// outcome. ErrPaymentNotCompleted when the session is unpaid,
	// ErrOrgMetadataMissing when the customer lacks the org reference.
	CheckoutResult(ctx context.Context, sessionID string) (*CheckoutResult, error)
	Subscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// UpdateSubscriptionItem swaps the item's price and quantity,
	// creating prorations.
	UpdateSubscriptionItem(ctx context.Context, subscriptionID, itemID, priceID string, quantity int64) (*Subscription, error)
	PaymentInfo(ctx context.Context, customerID string) (*PaymentInfo, error)
	// PortalSession creates a self-serve billing portal session and
	// returns its URL.
	PortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
