package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/pkg/market"
)

// FormatTable writes nodes as a table with columns NODE, PRICE, MAX DEMAND,
// MIN DEMAND and AGE. Returns the number of rows written.
func FormatTable(w io.Writer, nodes []*NodeSnapshot, cluster string) int {
	if len(nodes) == 0 {
		fmt.Fprintf(w, "No nodes found for cluster '%s'\n", cluster)
		return 0
	}

	fmt.Fprintf(w, "Nodes of cluster '%s':\n\n", cluster)

	const row = "%-20s %-24s %-12s %-12s %s\n"
	fmt.Fprintf(w, row, "NODE", "PRICE", "MAX DEMAND", "MIN DEMAND", "AGE")
	fmt.Fprintf(w, row, "--------------------", "------------------------", "------------", "------------", "--------")

	for _, n := range nodes {
		fmt.Fprintf(w, row,
			formatNodeID(n.NodeID),
			formatPrice(n.Price),
			formatDemand(n.Bid, (*market.Bid).MaximumDemand),
			formatDemand(n.Bid, (*market.Bid).MinimumDemand),
			formatAge(max(n.PriceUpdatedAtMs, n.BidUpdatedAtMs)),
		)
	}

	countMsg := "node"
	if len(nodes) != 1 {
		countMsg = "nodes"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(nodes), countMsg)

	return len(nodes)
}

// FormatJSONL writes one compact JSON object per node.
func FormatJSONL(w io.Writer, nodes []*NodeSnapshot) error {
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one node as indented JSON.
func FormatSingleJSON(w io.Writer, node *NodeSnapshot) error {
	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatNodeID(id string) string {
	if len(id) > 20 {
		return id[:17] + "..."
	}
	return id
}

func formatPrice(p *market.Price) string {
	if p == nil {
		return "-"
	}
	return printer.Price(p)
}

func formatDemand(b *market.Bid, pick func(*market.Bid) float64) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatFloat(pick(b), 'f', -1, 64)
}

// formatAge renders a millisecond timestamp relative to now, e.g. "2m ago".
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
