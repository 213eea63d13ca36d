package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

// Export renders outbid history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListOutbidsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no outbid records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting outbid history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storage.OutbidRecord, max int) []storage.OutbidRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.OutbidRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeHistoryCSV(path string, records []storage.OutbidRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "account_id", "order_id", "market_hash_name", "old_price", "new_price", "competitor_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		record := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			decimal.NewFromInt(rec.AccountID).String(),
			rec.OrderID,
			rec.MarketHashName,
			centsToDollars(rec.OldPriceCents),
			centsToDollars(rec.NewPriceCents),
			centsToDollars(rec.CompetitorPriceCents),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path string, records []storage.OutbidRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	newPrices := make([]float64, len(records))
	competitorPrices := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.CreatedAt
		newPrices[i] = float64(rec.NewPriceCents) / 100
		competitorPrices[i] = float64(rec.CompetitorPriceCents) / 100
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "$%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Our price",
				XValues: x,
				YValues: newPrices,
			},
			chart.TimeSeries{
				Name:    "Competitor",
				XValues: x,
				YValues: competitorPrices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func centsToDollars(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}
