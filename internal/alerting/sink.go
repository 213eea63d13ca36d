package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/events"
)

// notifyTimeout bounds a single best-effort delivery attempt.
const notifyTimeout = 15 * time.Second

// EventSink adapts a Notifier to the bot's fire-and-forget event stream.
// Each relevant event is delivered in its own goroutine; failures are logged
// and dropped, never surfaced to the scheduler.
type EventSink struct {
	notifier Notifier
	logger   zerolog.Logger
}

// NewEventSink wraps the notifier as an events.Sink.
func NewEventSink(notifier Notifier, logger zerolog.Logger) *EventSink {
	return &EventSink{
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_sink").Logger(),
	}
}

// Publish forwards outbid and account-error events to the notifier.
func (s *EventSink) Publish(event events.Event) {
	var note Notification

	switch event.Type {
	case events.TypeOrderOutbid:
		data, ok := event.Data.(events.OutbidData)
		if !ok {
			return
		}
		note = Notification{
			AccountName:          data.AccountName,
			MarketHashName:       data.MarketHashName,
			OldPriceCents:        data.OldPriceCents,
			NewPriceCents:        data.NewPriceCents,
			CompetitorPriceCents: data.CompetitorPriceCents,
			Timestamp:            event.Timestamp,
		}
	case events.TypeAccountStatus:
		data, ok := event.Data.(events.AccountStatusData)
		if !ok || data.Status != "error" {
			return
		}
		note = Notification{
			AccountName:  data.AccountName,
			Status:       data.Status,
			ErrorMessage: data.ErrorMessage,
			Timestamp:    event.Timestamp,
		}
	default:
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Warn().Err(err).Str("type", event.Type).Msg("notification delivery failed")
		}
	}()
}

var _ events.Sink = (*EventSink)(nil)
