package storage

import (
	"time"
)

// Account statuses as surfaced to the dashboard.
const (
	StatusIdle   = "idle"
	StatusOnline = "online"
	StatusError  = "error"
)

// Order kinds. Advanced orders carry a float-value window and skin indexes.
const (
	OrderKindSimple   = "simple"
	OrderKindAdvanced = "advanced"
)

// Account is one CSFloat account the bot bids on behalf of.
type Account struct {
	ID           int64
	Name         string
	APIKey       string
	Proxy        *string
	IsActive     bool
	Status       string
	ErrorMessage *string
	LastCheck    *time.Time
	CreatedAt    time.Time
}

// Eligible reports whether the account may be scheduled. Errored accounts
// stay out of the loop until an operator resets them.
func (a Account) Eligible() bool {
	return a.IsActive && a.Status != StatusError
}

// BuyOrder is a standing offer to purchase an item. The remote OrderID
// changes on every raise because CSFloat replaces rather than amends orders.
type BuyOrder struct {
	ID             int64
	AccountID      int64
	OrderID        string
	MarketHashName string
	PriceCents     int64
	Quantity       int
	Kind           string

	// Advanced-order attributes. The float window is immutable once placed.
	FloatMin   *float64
	FloatMax   *float64
	DefIndex   *int
	PaintIndex *int

	OutbidCount int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutbidRecord is an immutable audit entry, written exactly once per
// successful raise.
type OutbidRecord struct {
	ID                   int64
	AccountID            int64
	OrderID              string
	MarketHashName       string
	OldPriceCents        int64
	NewPriceCents        int64
	CompetitorPriceCents int64
	CreatedAt            time.Time
}

// PolicyRow is the persisted form of the policy settings, a singleton row
// the dashboard edits and the bot re-reads at every tick.
type PolicyRow struct {
	CheckIntervalSeconds int64
	OutbidStepCents      int64
	MaxOutbids           int
	PriceCeilingPct      int64
	UpdatedAt            time.Time
}
