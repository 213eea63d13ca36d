// Package events carries the typed notifications the bot emits for external
// relay. Delivery is fire-and-forget: sinks must never block the scheduler.
package events

import (
	"time"
)

// Event types fanned out to dashboards and alert channels.
const (
	TypeOrderOutbid   = "order_outbid"
	TypeAccountStatus = "account_status_changed"
	TypeBotStarted    = "bot_started"
	TypeBotStopped    = "bot_stopped"
)

// Event is one notification message.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// OutbidData describes a successful raise.
type OutbidData struct {
	AccountID            int64  `json:"account_id"`
	AccountName          string `json:"account_name"`
	OrderID              string `json:"order_id"`
	MarketHashName       string `json:"market_hash_name"`
	OldPriceCents        int64  `json:"old_price_cents"`
	NewPriceCents        int64  `json:"new_price_cents"`
	CompetitorPriceCents int64  `json:"competitor_price_cents"`
}

// AccountStatusData describes an account health transition.
type AccountStatusData struct {
	AccountID    int64  `json:"account_id"`
	AccountName  string `json:"account_name"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// BotStatusData describes a scheduler state transition.
type BotStatusData struct {
	IsRunning     bool  `json:"is_running"`
	CheckInterval int64 `json:"check_interval_seconds"`
}

// New stamps an event with the current time.
func New(eventType string, data any, message string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Message:   message,
	}
}

// Sink receives events. Publish must be non-blocking and best-effort; a sink
// that cannot keep up drops events rather than stalling the caller.
type Sink interface {
	Publish(event Event)
}

// Fanout relays each event to every registered sink.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a fanout over the given sinks; nil sinks are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	out := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

// Publish forwards the event to all sinks.
func (f *Fanout) Publish(event Event) {
	for _, s := range f.sinks {
		s.Publish(event)
	}
}

var _ Sink = (*Fanout)(nil)
