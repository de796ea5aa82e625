package directory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for demo mode and tests. A single
// mutex covers both tables, which gives admissions the same
// check-then-insert atomicity the Postgres store gets from row locks.
type MemoryStore struct {
	mu         sync.Mutex
	accounts   map[string]*Account // by ID
	byExternal map[string]string   // externalID → account ID
	orgs       map[string]*Organization
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*Account),
		byExternal: make(map[string]string),
		orgs:       make(map[string]*Organization),
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAccount(a)
}

// insertAccount must be called with the lock held.
func (m *MemoryStore) insertAccount(a *Account) error {
	if _, exists := m.byExternal[a.ExternalID]; exists {
		return ErrAccountExists
	}
	cp := *a
	m.accounts[a.ID] = &cp
	m.byExternal[a.ExternalID] = a.ID
	return nil
}

func (m *MemoryStore) Account(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) AccountByExternalID(_ context.Context, externalID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *MemoryStore) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	delete(m.byExternal, a.ExternalID)
	delete(m.accounts, id)
	return nil
}

func (m *MemoryStore) AdmitMember(_ context.Context, orgID string, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.orgs[orgID]
	if !ok {
		return ErrOrgNotFound
	}
	if m.countMembers(orgID) >= org.SeatLimit {
		return ErrSeatLimitReached
	}

	a.OrganizationID = orgID
	return m.insertAccount(a)
}

// countMembers must be called with the lock held.
func (m *MemoryStore) countMembers(orgID string) int {
	n := 0
	for _, a := range m.accounts {
		if a.OrganizationID == orgID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) CountMembers(_ context.Context, orgID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countMembers(orgID), nil
}

func (m *MemoryStore) ListMembers(_ context.Context, orgID string) ([]*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var members []*Account
	for _, a := range m.accounts {
		if a.OrganizationID == orgID {
			cp := *a
			members = append(members, &cp)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members, nil
}

func (m *MemoryStore) CreateOrganizationForOwner(_ context.Context, o *Organization, ownerAccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.SeatLimit < 1 {
		return ErrInvalidSeatLimit
	}
	owner, ok := m.accounts[ownerAccountID]
	if !ok {
		return ErrAccountNotFound
	}
	if owner.OrganizationID != "" {
		return ErrAlreadyInOrganization
	}

	cp := *o
	m.orgs[o.ID] = &cp
	owner.Role = RoleAdmin
	owner.OrganizationID = o.ID
	owner.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Organization(_ context.Context, id string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrOrgNotFound
	}
	cp := *org
	return &cp, nil
}

func (m *MemoryStore) UpdateOrganization(_ context.Context, orgID string, upd OrgUpdate) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.orgs[orgID]
	if !ok {
		return nil, ErrOrgNotFound
	}
	if upd.Plan != "" {
		org.Plan = upd.Plan
	}
	if upd.SeatLimit > 0 {
		org.SeatLimit = upd.SeatLimit
	}
	if upd.CustomerID != "" {
		org.StripeCustomerID = upd.CustomerID
	}
	if upd.SubscriptionID != "" {
		org.StripeSubscriptionID = upd.SubscriptionID
	}
	org.UpdatedAt = time.Now()
	cp := *org
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
