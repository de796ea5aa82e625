// Package plan defines the pricing plans and their mapping to Stripe prices.
package plan

// Plan identifies the pricing tier and billing interval.
type Plan string

const (
	BasicMonth    Plan = "basic_month"
	BasicYear     Plan = "basic_year"
	AdvancedMonth Plan = "advanced_month"
	AdvancedYear  Plan = "advanced_year"
	PremiumMonth  Plan = "premium_month"
	PremiumYear   Plan = "premium_year"
)

// Base is the fallback plan when a Stripe price cannot be mapped back.
const Base = BasicMonth

// seatLimits is the default seat allowance per tier. The billing interval
// does not change the allowance.
var seatLimits = map[Plan]int{
	BasicMonth:    3,
	BasicYear:     3,
	AdvancedMonth: 6,
	AdvancedYear:  6,
	PremiumMonth:  9,
	PremiumYear:   9,
}

// All lists every known plan in catalogue order.
var All = []Plan{BasicMonth, BasicYear, AdvancedMonth, AdvancedYear, PremiumMonth, PremiumYear}

// Valid returns true if the plan name is recognised.
func Valid(p Plan) bool {
	_, ok := seatLimits[p]
	return ok
}

// DefaultSeatLimit returns the seat allowance for a plan.
// Unknown plans fall back to the base plan's allowance.
func DefaultSeatLimit(p Plan) int {
	if n, ok := seatLimits[p]; ok {
		return n
	}
	return seatLimits[Base]
}

// Prices holds the Stripe price IDs for each plan, sourced from config.
type Prices struct {
	BasicMonth    string
	BasicYear     string
	AdvancedMonth string
	AdvancedYear  string
	PremiumMonth  string
	PremiumYear   string
}

// Catalog maps plans to Stripe price IDs and back.
type Catalog struct {
	byPlan  map[Plan]string
	byPrice map[string]Plan
}

// NewCatalog builds the bidirectional plan/price mapping. Plans whose
// price ID is unset are excluded from reverse lookup but still resolve
// forward to the base price so checkout never produces an empty price.
func NewCatalog(prices Prices) *Catalog {
	c := &Catalog{
		byPlan:  make(map[Plan]string),
		byPrice: make(map[string]Plan),
	}
	set := func(p Plan, priceID string) {
		if priceID == "" {
			return
		}
		c.byPlan[p] = priceID
		// First mapping wins if two plans share a price ID.
		if _, ok := c.byPrice[priceID]; !ok {
			c.byPrice[priceID] = p
		}
	}
	set(BasicMonth, prices.BasicMonth)
	set(BasicYear, prices.BasicYear)
	set(AdvancedMonth, prices.AdvancedMonth)
	set(AdvancedYear, prices.AdvancedYear)
	set(PremiumMonth, prices.PremiumMonth)
	set(PremiumYear, prices.PremiumYear)
	return c
}

// PriceID returns the Stripe price ID for a plan, falling back to the
// base plan's price when the plan is unknown or unconfigured.
func (c *Catalog) PriceID(p Plan) string {
	if id, ok := c.byPlan[p]; ok {
		return id
	}
	return c.byPlan[Base]
}

// PlanForPrice maps a Stripe price ID back to the internal plan.
// Unknown prices map to the base plan; this is an explicit fallback so a
// price added in the Stripe dashboard before a deploy does not break
// verification, not a silent bug.
func (c *Catalog) PlanForPrice(priceID string) Plan {
	if p, ok := c.byPrice[priceID]; ok {
		return p
	}
	return Base
}
