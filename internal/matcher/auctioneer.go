package matcher

import (
	"fmt"

	"github.com/anaelectric/powermatcher/pkg/market"
	"go.uber.org/zap"
)

// Auctioneer is the root of the tree. It aggregates like a concentrator, has no
// parent, and is the only producer of prices in its cluster.
type Auctioneer struct {
	*aggregator
}

var _ Node = (*Auctioneer)(nil)

// NewAuctioneer creates the root node of a cluster.
func NewAuctioneer(id string, basis market.MarketBasis, logger *zap.Logger) (*Auctioneer, error) {
	agg, err := newAggregator(id, basis, logger)
	if err != nil {
		return nil, err
	}
	return &Auctioneer{aggregator: agg}, nil
}

// SubmitChildBid stores the bid of childID and recomputes the combined bid.
// A null bid or a MarketBasis mismatch fails with market.ErrInvalidArgument.
func (a *Auctioneer) SubmitChildBid(childID string, bid *market.Bid) error {
	a.upMu.Lock()
	defer a.upMu.Unlock()

	_, err := a.storeBid(childID, bid)
	return err
}

// Disconnect forgets childID and recomputes the combined bid.
func (a *Auctioneer) Disconnect(childID string) {
	a.upMu.Lock()
	defer a.upMu.Unlock()

	a.dropChild(childID)
}

// PublishPrice validates price and broadcasts it to every child. Computed and
// manually injected prices both go through here. A null price fails with
// market.ErrInvalidArgument and the last published price stays in place.
func (a *Auctioneer) PublishPrice(price *market.Price) error {
	return a.acceptPrice(price, false)
}

// ReceivePrice is the administrative override path of the root; it is the
// same as PublishPrice.
func (a *Auctioneer) ReceivePrice(price *market.Price) error {
	return a.PublishPrice(price)
}

// Clear runs one clearing cycle: it computes the equilibrium of the current
// combined bid and publishes it. Returns ErrNoBid when there is nothing to clear.
func (a *Auctioneer) Clear() (*market.Price, error) {
	combined := a.LastAggregatedBid()
	if combined == nil {
		a.logger.Debug("skipping clearing cycle", zap.Error(ErrNoBid))
		return nil, ErrNoBid
	}

	price, err := ComputeEquilibrium(combined)
	if err != nil {
		return nil, fmt.Errorf("failed to compute equilibrium: %w", err)
	}

	if err := a.PublishPrice(price); err != nil {
		return nil, fmt.Errorf("failed to publish equilibrium price: %w", err)
	}

	a.logger.Info("market cleared", zap.Float64("price", price.CurrentPrice))
	a.Publish(Event{Type: EventCleared, NodeID: a.id, Bid: combined, Price: price.Clone()})
	return price, nil
}

// ComputeEquilibrium returns the price of the first step at which the
// non-increasing demand of bid is <= 0. For a run of zero-demand steps this is
// the lowest price of the run. Demand that never reaches zero clears at the
// highest step; demand already <= 0 at the first step clears at the lowest.
//
// The function is pure: the same bid always yields the same price.
func ComputeEquilibrium(bid *market.Bid) (*market.Price, error) {
	if bid == nil {
		return nil, fmt.Errorf("%w: bid is null", market.ErrInvalidArgument)
	}

	basis := bid.MarketBasis()
	step := basis.PriceSteps - 1
	for i, d := range bid.Demand() {
		if d <= 0 {
			step = i
			break
		}
	}

	return market.NewPrice(basis, basis.PriceOf(step)), nil
}
