package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchBus          busFlags
	watchOutputFormat string
	watchNode         string
	watchTypes        []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream market events of a running cluster",
	Long: `Stream bids, prices and clearing results of a cluster running with a
Redis bridge, as they occur.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the default cluster on localhost
  powermatcher watch

  # Only prices received by one agent
  powermatcher watch --cluster demo --node heatpump --type price_received

  # Export events as JSON
  powermatcher watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchBus.register(watchCmd)
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchNode, "node", "", "Only events of this node")
	watchCmd.Flags().StringSliceVar(&watchTypes, "type", nil, "Only events of these types (repeatable)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			err.Error(),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := watchBus.connect(ctx, "watch")
	if err != nil {
		return err
	}
	defer client.Close()

	filter := &watch.Filter{NodeID: watchNode, Types: watchTypes}
	return watch.StreamEvents(ctx, client, format, filter, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
