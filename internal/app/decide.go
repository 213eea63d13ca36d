package app

import (
	"context"
	"fmt"
	"os"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/alerting"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/policy"
)

// Decide runs the outbid decision once against the given prices and prints
// the outcome. Useful for sanity-checking settings without touching the
// marketplace.
func (a *App) Decide(ctx context.Context, opts DecideOptions) error {
	settings := a.Config.Bot.DefaultPolicy()

	if a.Config.Database.DSN != "" {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		stored, err := store.GetPolicy(ctx)
		if err == nil {
			settings = stored
		} else {
			a.Logger.Warn().Err(err).Msg("falling back to config policy defaults")
		}
	}

	decision := policy.Decide(policy.OrderState{
		PriceCents:  opts.OrderPriceCents,
		OutbidCount: opts.OutbidCount,
		IsActive:    true,
	}, opts.CompetitorCents, opts.LowestListingCents, settings)

	ceiling := policy.Ceiling(opts.LowestListingCents, settings.PriceCeilingPct)

	fmt.Fprintf(os.Stdout, "our price:       %s\n", alerting.FormatCents(opts.OrderPriceCents))
	fmt.Fprintf(os.Stdout, "competitor:      %s\n", alerting.FormatCents(opts.CompetitorCents))
	fmt.Fprintf(os.Stdout, "lowest listing:  %s\n", alerting.FormatCents(opts.LowestListingCents))
	fmt.Fprintf(os.Stdout, "price ceiling:   %s (%d%%)\n", alerting.FormatCents(ceiling), settings.PriceCeilingPct)

	if decision.Action == policy.Raise {
		fmt.Fprintf(os.Stdout, "decision:        raise to %s\n", alerting.FormatCents(decision.NewPriceCents))
	} else {
		fmt.Fprintf(os.Stdout, "decision:        no action (%s)\n", decision.Reason)
	}
	return nil
}
