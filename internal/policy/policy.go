package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MinCheckInterval is the lowest cadence the bot will accept. Anything
// faster hammers the CSFloat API for no benefit.
const MinCheckInterval = 5 * time.Second

// Settings hold the process-wide outbid policy. They are loaded from the
// settings store at the start of every tick; changes apply to the next tick.
type Settings struct {
	// CheckInterval is the delay between two scheduler ticks.
	CheckInterval time.Duration
	// OutbidStepCents is added on top of the competitor price when raising.
	OutbidStepCents int64
	// MaxOutbids caps how many times a single order may be raised.
	MaxOutbids int
	// PriceCeilingPct bounds any raise to this percentage of the cheapest
	// buy-now listing, so the bot never bids above what the item sells for.
	PriceCeilingPct int64
}

// Validate rejects settings the bot must not run with. A failed validation
// is fatal to a start request, not something the decision engine tolerates.
func (s Settings) Validate() error {
	if s.CheckInterval < MinCheckInterval {
		return fmt.Errorf("check interval must be at least %s", MinCheckInterval)
	}
	if s.OutbidStepCents <= 0 {
		return fmt.Errorf("outbid step must be a positive amount of cents")
	}
	if s.MaxOutbids <= 0 {
		return fmt.Errorf("max outbids must be greater than zero")
	}
	if s.PriceCeilingPct <= 0 || s.PriceCeilingPct > 100 {
		return fmt.Errorf("price ceiling percent must be within (0, 100]")
	}
	return nil
}

// OrderState is the slice of a buy order the decision engine looks at.
type OrderState struct {
	PriceCents  int64
	OutbidCount int
	IsActive    bool
}

// Action enumerates decision outcomes.
type Action int

const (
	// NoAction means the order is left as it is.
	NoAction Action = iota
	// Raise means the order should be replaced at Decision.NewPriceCents.
	Raise
)

// Stop reasons reported on NoAction decisions.
const (
	ReasonInactive       = "order inactive"
	ReasonNotOutbid      = "not outbid"
	ReasonCeilingReached = "would exceed price ceiling"
	ReasonMaxOutbids     = "max outbids reached"
)

// Decision is the result of evaluating one order against one competitor price.
type Decision struct {
	Action        Action
	NewPriceCents int64
	Reason        string
}

// Ceiling computes floor(lowestListingCents * pct / 100). The ceiling always
// bounds against the sell-side floor, never against the competitor's buy
// order, so a bidding war cannot push us above the outright purchase price.
func Ceiling(lowestListingCents, pct int64) int64 {
	return decimal.NewFromInt(lowestListingCents).
		Mul(decimal.NewFromInt(pct)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}

// Decide evaluates whether an order should be raised above a competitor.
// It is a pure function of its inputs: no I/O, no hidden state, identical
// inputs always yield identical decisions.
func Decide(order OrderState, competitorCents, lowestListingCents int64, s Settings) Decision {
	if !order.IsActive {
		return Decision{Action: NoAction, Reason: ReasonInactive}
	}

	// Ties count as leading; replacing an order at parity just burns API calls.
	if competitorCents <= order.PriceCents {
		return Decision{Action: NoAction, Reason: ReasonNotOutbid}
	}

	candidate := competitorCents + s.OutbidStepCents

	if ceiling := Ceiling(lowestListingCents, s.PriceCeilingPct); candidate > ceiling {
		return Decision{Action: NoAction, Reason: ReasonCeilingReached}
	}

	if order.OutbidCount+1 > s.MaxOutbids {
		return Decision{Action: NoAction, Reason: ReasonMaxOutbids}
	}

	return Decision{Action: Raise, NewPriceCents: candidate}
}
