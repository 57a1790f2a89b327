package commands

import (
	"context"
	"fmt"

	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/internal/snapshot"
	"github.com/spf13/cobra"
)

var (
	nodesBus          busFlags
	nodesOutputFormat string
	nodesPattern      string
)

var nodesCmd = &cobra.Command{
	Use:   "nodes [node-id]",
	Short: "Show the last price and bid of each node",
	Long: `Show the snapshots the Redis bridge keeps for every node of a cluster.

Without arguments all nodes are listed as a table (or JSONL with -o jsonl).
With a node id, that node's snapshots are printed as JSON.

Examples:
  powermatcher nodes --cluster demo
  powermatcher nodes --cluster demo --match 'house-*'
  powermatcher nodes --cluster demo auctioneer`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNodes,
}

func init() {
	nodesBus.register(nodesCmd)
	nodesCmd.Flags().StringVarP(&nodesOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	nodesCmd.Flags().StringVar(&nodesPattern, "match", "", "Only nodes whose id matches this glob")
	rootCmd.AddCommand(nodesCmd)
}

func runNodes(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var format snapshot.OutputFormat
	switch nodesOutputFormat {
	case "default":
		format = snapshot.OutputFormatDefault
	case "jsonl":
		format = snapshot.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", nodesOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	client, err := nodesBus.connect(ctx, "nodes")
	if err != nil {
		return err
	}
	defer client.Close()

	if len(args) == 1 {
		if err := snapshot.GetNode(ctx, client, args[0], cmd.OutOrStdout()); err != nil {
			if snapshot.IsNotFound(err) {
				return printer.Error(
					fmt.Sprintf("node '%s' not found", args[0]),
					fmt.Sprintf("Cluster '%s' has no snapshot for this node.", client.Cluster()),
					[]string{"List the known nodes:\n  powermatcher nodes --cluster " + client.Cluster()},
				)
			}
			return err
		}
		return nil
	}

	return snapshot.ListNodes(ctx, client, nodesPattern, format, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
