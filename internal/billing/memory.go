package billing

import (
	"context"
	"fmt"
	"sync"
)

// MemoryGateway is an in-memory Gateway for demo mode and tests.
// Sessions and subscriptions are scripted through the Add helpers, and
// the Fail flags inject provider outages.
type MemoryGateway struct {
	mu            sync.Mutex
	customers     map[string]string // customerID → orgID
	sessions      map[string]*CheckoutResult
	incomplete    map[string]bool
	subscriptions map[string]*Subscription
	payments      map[string]*PaymentInfo
	nextID        int

	FailCreateCustomer bool
	FailCreateSession  bool
	FailUpdate         bool
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		customers:     make(map[string]string),
		sessions:      make(map[string]*CheckoutResult),
		incomplete:    make(map[string]bool),
		subscriptions: make(map[string]*Subscription),
		payments:      make(map[string]*PaymentInfo),
	}
}

func (m *MemoryGateway) CreateCustomer(_ context.Context, orgID, name, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateCustomer {
		return "", fmt.Errorf("billing: provider unavailable")
	}
	m.nextID++
	id := fmt.Sprintf("cus_mem_%d", m.nextID)
	m.customers[id] = orgID
	return id, nil
}

func (m *MemoryGateway) CreateCheckoutSession(_ context.Context, customerID, priceID string, quantity int64, successURL, cancelURL string) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateSession {
		return nil, fmt.Errorf("billing: provider unavailable")
	}
	m.nextID++
	id := fmt.Sprintf("cs_mem_%d", m.nextID)
	m.sessions[id] = &CheckoutResult{
		OrgID:          m.customers[customerID],
		CustomerID:     customerID,
		SubscriptionID: fmt.Sprintf("sub_mem_%d", m.nextID),
		PriceID:        priceID,
		SeatQuantity:   quantity,
	}
	// Sessions start incomplete; CompleteSession marks them complete.
	m.incomplete[id] = true
	return &CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

// CompleteSession marks a created session as complete and registers the
// subscription it produced.
func (m *MemoryGateway) CompleteSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.incomplete, sessionID)
	m.subscriptions[res.SubscriptionID] = &Subscription{
		ID:       res.SubscriptionID,
		Status:   "active",
		ItemID:   "si_" + res.SubscriptionID,
		PriceID:  res.PriceID,
		Quantity: res.SeatQuantity,
	}
}

// AddSession scripts a session outcome directly.
func (m *MemoryGateway) AddSession(sessionID string, res *CheckoutResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.sessions[sessionID] = &cp
}

// AddSubscription scripts a subscription directly.
func (m *MemoryGateway) AddSubscription(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subscriptions[sub.ID] = &cp
}

// AddPaymentInfo scripts the payment info for a customer.
func (m *MemoryGateway) AddPaymentInfo(customerID string, info *PaymentInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[customerID] = info
}

func (m *MemoryGateway) CheckoutResult(_ context.Context, sessionID string) (*CheckoutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.incomplete[sessionID] {
		return nil, ErrPaymentNotCompleted
	}
	if res.OrgID == "" {
		return nil, ErrOrgMetadataMissing
	}
	cp := *res
	return &cp, nil
}

func (m *MemoryGateway) Subscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryGateway) UpdateSubscriptionItem(_ context.Context, subscriptionID, itemID, priceID string, quantity int64) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdate {
		return nil, fmt.Errorf("billing: provider unavailable")
	}
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	sub.ItemID = itemID
	sub.PriceID = priceID
	sub.Quantity = quantity
	cp := *sub
	return &cp, nil
}

func (m *MemoryGateway) PaymentInfo(_ context.Context, customerID string) (*PaymentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, scripted := m.payments[customerID]
	if !scripted {
		if _, ok := m.customers[customerID]; !ok {
			return nil, ErrCustomerNotFound
		}
		return nil, ErrNoPaymentMethod
	}
	if info.Card == nil {
		return nil, ErrNoPaymentMethod
	}
	return info, nil
}

func (m *MemoryGateway) PortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[customerID]; !ok {
		return "", ErrCustomerNotFound
	}
	return "https://portal.example.com/" + customerID, nil
}

var _ Gateway = (*MemoryGateway)(nil)
