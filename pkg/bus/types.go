package bus

import (
	"fmt"
	"math"
	"time"

	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/google/uuid"
)

// Event is the envelope published on the market events channel.
type Event struct {
	ID        string        `json:"id"`      // UUID of this envelope
	Cluster   string        `json:"cluster"` // Cluster the event originated from
	Type      string        `json:"type"`    // bid_received, price_published, cleared, ...
	NodeID    string        `json:"node_id"`
	ChildID   string        `json:"child_id,omitempty"`
	Bid       *market.Bid   `json:"bid,omitempty"`
	Price     *market.Price `json:"price,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Validate checks the envelope fields.
func (e *Event) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("invalid event id '%s': %w", e.ID, err)
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.NodeID == "" {
		return fmt.Errorf("event node_id is required")
	}
	return nil
}

// PriceOverride is a manual price injected at the auctioneer. A nil Price is a
// null override; it is delivered as such and rejected by the auctioneer.
type PriceOverride struct {
	ID    string   `json:"id"`
	Price *float64 `json:"price"`
}

// Validate checks the override envelope. A null price is a valid message.
func (o *PriceOverride) Validate() error {
	if _, err := uuid.Parse(o.ID); err != nil {
		return fmt.Errorf("invalid override id '%s': %w", o.ID, err)
	}
	if o.Price != nil && (math.IsNaN(*o.Price) || math.IsInf(*o.Price, 0)) {
		return fmt.Errorf("%w: override price is not a finite number", market.ErrInvalidArgument)
	}
	return nil
}

// PriceSnapshot is the stored last price of a node.
type PriceSnapshot struct {
	NodeID      string
	Price       *market.Price
	UpdatedAtMs int64
}

// BidSnapshot is the stored last aggregated bid of a node.
type BidSnapshot struct {
	NodeID      string
	Bid         *market.Bid
	UpdatedAtMs int64
}
