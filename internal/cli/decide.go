package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/app"
)

var (
	decidePrice       int64
	decideCount       int
	decideCompetitor  int64
	decideLowestPrice int64
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Dry-run the outbid decision against given prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if decidePrice <= 0 || decideCompetitor <= 0 || decideLowestPrice <= 0 {
			return fmt.Errorf("--price, --competitor, and --lowest must be greater than zero")
		}

		opts := app.DecideOptions{
			OrderPriceCents:    decidePrice,
			OutbidCount:        decideCount,
			CompetitorCents:    decideCompetitor,
			LowestListingCents: decideLowestPrice,
		}

		return getApp().Decide(cmd.Context(), opts)
	},
}

func init() {
	decideCmd.Flags().Int64Var(&decidePrice, "price", 0, "Current order price in cents")
	decideCmd.Flags().IntVar(&decideCount, "outbid-count", 0, "Outbids already performed on the order")
	decideCmd.Flags().Int64Var(&decideCompetitor, "competitor", 0, "Highest competing buy order price in cents")
	decideCmd.Flags().Int64Var(&decideLowestPrice, "lowest", 0, "Lowest matching listing price in cents")
}
