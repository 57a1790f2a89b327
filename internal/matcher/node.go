// Package matcher implements the PowerMatcher aggregation tree: concentrators
// sum the bids of their children and relay prices downward; the auctioneer at
// the root computes the equilibrium price and is the only source of prices.
//
// Nodes never own each other. A node knows its children by identifier and
// keeps one PriceListener per child; it knows its parent by identifier and a
// BidSink link. Every node serialises its own state changes; different nodes
// are independent and there is no global lock.
package matcher

import (
	"errors"
	"strings"

	"github.com/anaelectric/powermatcher/pkg/market"
)

// ErrNoBid is returned by a clearing cycle when no child has ever been connected
// or has submitted a bid.
var ErrNoBid = errors.New("no aggregated bid available")

// PriceListener receives prices relayed down the tree.
type PriceListener interface {
	HandlePriceUpdate(price *market.Price) error
}

// BidSink receives bids travelling up the tree.
type BidSink interface {
	SubmitChildBid(childID string, bid *market.Bid) error
}

// Node is the capability shared by inner nodes (Concentrator) and the root
// (Auctioneer).
type Node interface {
	BidSink
	ID() string
	MarketBasis() market.MarketBasis
	Connect(childID string, listener PriceListener) error
	Disconnect(childID string)
	ReceivePrice(price *market.Price) error
	LastPrice() *market.Price
	LastAggregatedBid() *market.Bid
	State() State
	AddObserver(o Observer)
	RemoveObserver(o Observer)
}

// State records which values a node has retained so far.
// UNINITIALIZED is the zero value; HasBid and HasPrice are set independently
// and never cleared.
type State uint8

const (
	StateHasBid State = 1 << iota
	StateHasPrice
)

// Uninitialized is the state of a node that has neither a bid nor a price.
const Uninitialized State = 0

// Has reports whether all flags in s2 are set in s.
func (s State) Has(s2 State) bool {
	return s&s2 == s2
}

func (s State) String() string {
	if s == Uninitialized {
		return "UNINITIALIZED"
	}
	var parts []string
	if s.Has(StateHasBid) {
		parts = append(parts, "HAS_BID")
	}
	if s.Has(StateHasPrice) {
		parts = append(parts, "HAS_PRICE")
	}
	return strings.Join(parts, "|")
}
