package commands

import (
	"fmt"
	"io"

	"github.com/anaelectric/powermatcher/internal/config"
	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate powermatcher.yml and print the market tree",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&configPath, "file", "f", "powermatcher.yml", "Path to the cluster configuration")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	printer.Success("%s is valid\n\n", configPath)
	writeTopology(cmd.OutOrStdout(), cfg)
	return nil
}

// writeTopology draws the tree of cfg, concentrators before agents at each level.
func writeTopology(w io.Writer, cfg *config.Config) {
	mb := cfg.MarketBasis
	fmt.Fprintf(w, "Cluster '%s' (%s, %s %g..%g, %d steps)\n",
		cfg.Cluster, mb.Commodity, mb.Currency, mb.MinPrice, mb.MaxPrice, mb.PriceSteps)
	fmt.Fprintf(w, "%s (auctioneer, clearing every %s)\n", cfg.Auctioneer.ID, cfg.Auctioneer.ClearingInterval)
	writeChildren(w, cfg, cfg.Auctioneer.ID, "")
	if cfg.Redis != nil {
		fmt.Fprintf(w, "\nRedis bridge: %s\n", cfg.Redis.URL)
	}
	if cfg.API != nil {
		fmt.Fprintf(w, "Status API: %s\n", cfg.API.Listen)
	}
}

func writeChildren(w io.Writer, cfg *config.Config, parent, indent string) {
	type entry struct {
		id, label    string
		concentrator bool
	}

	var children []entry
	for _, id := range cfg.ConcentratorOrder() {
		if cfg.Concentrators[id].Parent == parent {
			children = append(children, entry{id: id, label: "concentrator", concentrator: true})
		}
	}
	for _, id := range cfg.AgentIDs() {
		a := cfg.Agents[id]
		if a.Parent == parent {
			children = append(children, entry{id: id, label: fmt.Sprintf("%s, bids every %s", a.Kind, a.BidUpdateRate)})
		}
	}

	for i, child := range children {
		branch, next := "├── ", "│   "
		if i == len(children)-1 {
			branch, next = "└── ", "    "
		}
		fmt.Fprintf(w, "%s%s%s (%s)\n", indent, branch, child.id, child.label)
		if child.concentrator {
			writeChildren(w, cfg, child.id, indent+next)
		}
	}
}
