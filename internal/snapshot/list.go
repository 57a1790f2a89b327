// Package snapshot reads the last price and bid of every node from the bus
// and renders them for the CLI.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/anaelectric/powermatcher/pkg/bus"
	"github.com/anaelectric/powermatcher/pkg/market"
)

// OutputFormat specifies how the node list is written.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with the demand range of each bid
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes one NodeSnapshot per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// NodeSnapshot joins the stored price and bid of one node. Either may be
// nil when the node has not produced one yet.
type NodeSnapshot struct {
	NodeID           string        `json:"node_id"`
	Price            *market.Price `json:"price"`
	PriceUpdatedAtMs int64         `json:"price_updated_at_ms,omitempty"`
	Bid              *market.Bid   `json:"bid"`
	BidUpdatedAtMs   int64         `json:"bid_updated_at_ms,omitempty"`
}

// Load reads both snapshots of nodeID.
// Returns a *NodeNotFoundError when neither exists.
func Load(ctx context.Context, client *bus.Client, nodeID string) (*NodeSnapshot, error) {
	s := &NodeSnapshot{NodeID: nodeID}

	price, err := client.GetPrice(ctx, nodeID)
	switch {
	case err == nil:
		s.Price = price.Price
		s.PriceUpdatedAtMs = price.UpdatedAtMs
	case !bus.IsNotFound(err):
		return nil, fmt.Errorf("failed to read price of '%s': %w", nodeID, err)
	}

	bid, err := client.GetBid(ctx, nodeID)
	switch {
	case err == nil:
		s.Bid = bid.Bid
		s.BidUpdatedAtMs = bid.UpdatedAtMs
	case !bus.IsNotFound(err):
		return nil, fmt.Errorf("failed to read bid of '%s': %w", nodeID, err)
	}

	if s.Price == nil && s.Bid == nil {
		return nil, &NodeNotFoundError{NodeID: nodeID}
	}
	return s, nil
}

// ListNodes writes the snapshots of every node whose id matches glob (empty
// matches all) in id order. Corrupt snapshots are reported to errW and skipped.
func ListNodes(ctx context.Context, client *bus.Client, glob string, format OutputFormat, w, errW io.Writer) error {
	ids, err := client.Nodes(ctx)
	if err != nil {
		return err
	}

	var nodes []*NodeSnapshot
	for _, id := range ids {
		if glob != "" {
			matched, err := filepath.Match(glob, id)
			if err != nil {
				return fmt.Errorf("invalid node pattern '%s': %w", glob, err)
			}
			if !matched {
				continue
			}
		}

		s, err := Load(ctx, client, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			fmt.Fprintf(errW, "⚠️  Skipping malformed snapshot: node=%s (error: %v)\n", id, err)
			continue
		}
		nodes = append(nodes, s)
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, nodes, client.Cluster())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, nodes); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}

// GetNode writes the snapshots of nodeID as indented JSON.
func GetNode(ctx context.Context, client *bus.Client, nodeID string, w io.Writer) error {
	s, err := Load(ctx, client, nodeID)
	if err != nil {
		return err
	}

	if err := FormatSingleJSON(w, s); err != nil {
		return fmt.Errorf("failed to format snapshot: %w", err)
	}
	return nil
}

// NodeNotFoundError reports a node without any stored snapshot.
type NodeNotFoundError struct {
	NodeID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("no snapshot found for node '%s'", e.NodeID)
}

// IsNotFound returns true if the error is a NodeNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NodeNotFoundError)
	return ok
}
