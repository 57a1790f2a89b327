package commands

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/internal/watch"
	"github.com/anaelectric/powermatcher/pkg/bus"
	"github.com/spf13/cobra"
)

var (
	priceBus        busFlags
	priceWait       bool
	priceTimeout    time.Duration
	priceAuctioneer string
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Inspect or override market prices",
}

var priceSetCmd = &cobra.Command{
	Use:   "set <value|null>",
	Short: "Publish a price override to the auctioneer of a running cluster",
	Long: `Publish a price on behalf of the auctioneer. The price is relayed down the
tree to every agent until the next clearing replaces it.

Prices outside the market basis range are passed through unchanged. The
value "null" is rejected by the auctioneer, which keeps its previous price.

Examples:
  powermatcher price set 25 --cluster demo
  powermatcher price set 52 --cluster demo --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runPriceSet,
}

func init() {
	priceBus.register(priceSetCmd)
	priceSetCmd.Flags().BoolVar(&priceWait, "wait", false, "Wait until the auctioneer has published the price")
	priceSetCmd.Flags().DurationVar(&priceTimeout, "timeout", 10*time.Second, "How long --wait waits")
	priceSetCmd.Flags().StringVar(&priceAuctioneer, "auctioneer", "auctioneer", "Node id of the auctioneer")
	priceCmd.AddCommand(priceSetCmd)
	rootCmd.AddCommand(priceCmd)
}

// parsePriceArg parses a price argument. "null" yields nil.
func parsePriceArg(s string) (*float64, error) {
	if strings.EqualFold(s, "null") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("'%s' is not a finite number", s)
	}
	return &v, nil
}

func runPriceSet(cmd *cobra.Command, args []string) error {
	value, err := parsePriceArg(args[0])
	if err != nil {
		return printer.Error(
			"invalid price",
			err.Error(),
			[]string{"Pass a number such as 25, or null"},
		)
	}

	ctx := context.Background()
	client, err := priceBus.connect(ctx, "price set")
	if err != nil {
		return err
	}
	defer client.Close()

	sentAt := time.Now().UnixMilli()
	if err := client.PublishOverride(ctx, value); err != nil {
		return printer.Error("failed to publish price override", err.Error(), nil)
	}

	if value == nil {
		printer.Warning("Published null price to cluster '%s'; the auctioneer will reject it and keep its previous price\n", client.Cluster())
		return nil
	}
	printer.Success("Published price %g to cluster '%s'\n", *value, client.Cluster())

	if !priceWait {
		return nil
	}

	printer.Step("Waiting for '%s' to publish the price...\n", priceAuctioneer)
	snapshot, err := watch.PollForPrice(ctx, client, priceAuctioneer, priceTimeout, func(s *bus.PriceSnapshot) bool {
		return s.UpdatedAtMs >= sentAt && s.Price != nil && s.Price.CurrentPrice == *value
	})
	if err != nil {
		return printer.Error(
			"price not confirmed",
			err.Error(),
			[]string{
				"Check that the cluster runs with a Redis bridge:\n     powermatcher watch --cluster " + client.Cluster(),
				"Check the auctioneer id with --auctioneer",
			},
		)
	}

	printer.Success("'%s' published %s\n", priceAuctioneer, printer.Price(snapshot.Price))
	return nil
}
