package models

// Tier represents a subscription level
type Tier string

const (
	TierBasic Tier = "basic"
	TierPlus  Tier = "plus"
	TierPro   Tier = "pro"
)

// IsPaid returns true for tiers that block a new Plus offer
func (t Tier) IsPaid() bool {
	return t == TierPlus || t == TierPro
}

// SubscriptionSnapshot is a user's effective subscription, derived from CRM
// orders. Dates are CRM calendar dates (YYYY-MM-DD).
type SubscriptionSnapshot struct {
	Tier            Tier   `json:"tier"`
	StartDate       string `json:"startDate,omitempty"`
	NextInvoiceDate string `json:"nextInvoiceDate,omitempty"`
}

// BasicSnapshot is the snapshot of a user without a matching active order
func BasicSnapshot() SubscriptionSnapshot {
	return SubscriptionSnapshot{Tier: TierBasic}
}

// ProductPrices holds tax-inclusive prices for one catalog product
type ProductPrices struct {
	Unique float64  `json:"unique"`
	Month  *float64 `json:"month,omitempty"`
	Year   *float64 `json:"year,omitempty"`
}

// CatalogPrices holds the prices of every tier product
type CatalogPrices struct {
	Free ProductPrices `json:"free"`
	Plus ProductPrices `json:"plus"`
	Pro  ProductPrices `json:"pro"`
}
