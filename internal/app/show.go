package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/alerting"
)

// Show prints the configured accounts and the most recent outbids.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Account\tActive\tStatus\tLast Check (UTC)\tError")
	for _, account := range accounts {
		lastCheck := "-"
		if account.LastCheck != nil {
			lastCheck = account.LastCheck.UTC().Format(time.RFC3339)
		}
		errMsg := ""
		if account.ErrorMessage != nil {
			errMsg = sanitizeInline(*account.ErrorMessage)
		}
		fmt.Fprintf(writer, "%s\t%t\t%s\t%s\t%s\n",
			account.Name, account.IsActive, account.Status, lastCheck, errMsg)
	}
	writer.Flush()

	records, err := store.ListRecentOutbids(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "\nno outbids recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tItem\tOld\tNew\tCompetitor")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.MarketHashName,
			alerting.FormatCents(rec.OldPriceCents),
			alerting.FormatCents(rec.NewPriceCents),
			alerting.FormatCents(rec.CompetitorPriceCents),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
