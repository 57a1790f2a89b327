package matcher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/anaelectric/powermatcher/pkg/market"
	"go.uber.org/zap"
)

// child is the per-child slot of an aggregator. bid is nil until the child
// submits; listener is nil for children that only submit bids.
type child struct {
	bid      *market.Bid
	listener PriceListener
}

// aggregator holds the state and algorithms shared by Concentrator and
// Auctioneer. mu guards the state fields; upMu and downMu serialise forwarding
// so values leave the node in the order they were accepted.
type aggregator struct {
	Observable

	id     string
	basis  market.MarketBasis
	logger *zap.Logger

	upMu   sync.Mutex
	downMu sync.Mutex

	mu            sync.Mutex
	children      map[string]*child
	aggregated    *market.Bid
	lastPublished *market.Price
	lastReceived  *market.Price
}

func newAggregator(id string, basis market.MarketBasis, logger *zap.Logger) (*aggregator, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: node id cannot be empty", market.ErrInvalidArgument)
	}
	if err := basis.Validate(); err != nil {
		return nil, fmt.Errorf("node '%s': %w", id, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &aggregator{
		id:       id,
		basis:    basis,
		logger:   logger,
		children: make(map[string]*child),
	}, nil
}

// ID returns the node identifier.
func (a *aggregator) ID() string { return a.id }

// MarketBasis returns the basis every child bid must use.
func (a *aggregator) MarketBasis() market.MarketBasis { return a.basis }

// Connect registers listener as the price receiver for childID.
// Reconnecting a child replaces its listener and keeps its last bid.
func (a *aggregator) Connect(childID string, listener PriceListener) error {
	if childID == "" {
		return fmt.Errorf("%w: child id cannot be empty", market.ErrInvalidArgument)
	}
	if listener == nil {
		return fmt.Errorf("%w: child '%s' has no price listener", market.ErrInvalidArgument, childID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	slot, ok := a.children[childID]
	if !ok {
		slot = &child{}
		a.children[childID] = slot
	}
	slot.listener = listener

	a.logger.Debug("child connected", zap.String("child", childID))
	return nil
}

// Children returns the identifiers of all known children, sorted.
func (a *aggregator) Children() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedChildIDs()
}

// LastAggregatedBid returns the most recent combined bid, or nil.
func (a *aggregator) LastAggregatedBid() *market.Bid {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aggregated
}

// LastChildBid returns the last bid submitted by childID, or nil.
func (a *aggregator) LastChildBid(childID string) *market.Bid {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot, ok := a.children[childID]; ok {
		return slot.bid
	}
	return nil
}

// LastPrice returns the last accepted price, or nil. Rejected prices are never returned.
func (a *aggregator) LastPrice() *market.Price {
	return a.LastPublishedPrice()
}

// LastPublishedPrice returns the last price relayed to the children, or nil.
func (a *aggregator) LastPublishedPrice() *market.Price {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPublished.Clone()
}

// State reports which values the node has retained.
func (a *aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s State
	if a.aggregated != nil {
		s |= StateHasBid
	}
	if a.lastPublished != nil {
		s |= StateHasPrice
	}
	return s
}

// storeBid validates bid and stores it for childID, then recomputes the
// combined bid. State is untouched when validation fails.
// Concentrators call it while holding upMu.
func (a *aggregator) storeBid(childID string, bid *market.Bid) (*market.Bid, error) {
	if err := a.validateBid(childID, bid); err != nil {
		a.logger.Warn("bid rejected", zap.String("child", childID), zap.Error(err))
		a.Publish(Event{Type: EventBidRejected, NodeID: a.id, ChildID: childID, Error: err.Error()})
		return nil, err
	}

	a.mu.Lock()
	slot, ok := a.children[childID]
	if !ok {
		slot = &child{}
		a.children[childID] = slot
	}
	slot.bid = bid
	combined, err := a.aggregate()
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.aggregated = combined
	a.mu.Unlock()

	a.logger.Debug("bid received", zap.String("child", childID), zap.Float64s("demand", bid.Demand()))
	a.Publish(Event{Type: EventBidReceived, NodeID: a.id, ChildID: childID, Bid: bid})
	a.Publish(Event{Type: EventAggregatedBid, NodeID: a.id, Bid: combined})

	return combined, nil
}

// dropChild removes childID and recomputes the combined bid.
// Returns the new combined bid, or nil when nothing changed.
func (a *aggregator) dropChild(childID string) *market.Bid {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, ok := a.children[childID]
	if !ok {
		return nil
	}
	delete(a.children, childID)
	a.logger.Debug("child disconnected", zap.String("child", childID))

	if slot.bid == nil || a.aggregated == nil {
		return nil
	}

	combined, err := a.aggregate()
	if err != nil {
		// Every stored bid passed validation, so this cannot happen.
		a.logger.Error("failed to re-aggregate after disconnect", zap.Error(err))
		return nil
	}
	a.aggregated = combined
	return combined
}

func (a *aggregator) validateBid(childID string, bid *market.Bid) error {
	if childID == "" {
		return fmt.Errorf("%w: child id cannot be empty", market.ErrInvalidArgument)
	}
	if bid == nil {
		return fmt.Errorf("%w: bid from '%s' is null", market.ErrInvalidArgument, childID)
	}
	if bid.MarketBasis() != a.basis {
		return fmt.Errorf("%w: bid from '%s' uses %s, node '%s' uses %s",
			market.ErrInvalidArgument, childID, bid.MarketBasis(), a.id, a.basis)
	}
	return nil
}

// aggregate sums the last bid of every child. Children without a bid count
// as zero demand. Callers must hold mu.
func (a *aggregator) aggregate() (*market.Bid, error) {
	combined, err := market.ZeroBid(a.basis)
	if err != nil {
		return nil, err
	}

	for _, id := range a.sortedChildIDs() {
		bid := a.children[id].bid
		if bid == nil {
			continue
		}
		if combined, err = combined.Add(bid); err != nil {
			return nil, fmt.Errorf("failed to add bid from '%s': %w", id, err)
		}
	}
	return combined, nil
}

// acceptPrice validates price, retains it and relays it to every child.
// A null or malformed price is rejected without touching retained state.
// Prices outside the local basis range are accepted and relayed unchanged.
func (a *aggregator) acceptPrice(price *market.Price, received bool) error {
	if err := market.ValidatePrice(price); err != nil {
		a.logger.Warn("price rejected, retaining last valid price", zap.Error(err))
		a.Publish(Event{Type: EventPriceRejected, NodeID: a.id, Error: err.Error()})
		return err
	}

	if !a.basis.Contains(price.CurrentPrice) || price.MarketBasis != a.basis {
		a.logger.Info("passing through price from a different price range",
			zap.Float64("price", price.CurrentPrice),
			zap.Float64("min_price", a.basis.MinPrice),
			zap.Float64("max_price", a.basis.MaxPrice))
	}

	a.downMu.Lock()
	defer a.downMu.Unlock()

	a.mu.Lock()
	a.lastPublished = price.Clone()
	if received {
		a.lastReceived = price.Clone()
	}
	ids := a.sortedChildIDs()
	listeners := make([]PriceListener, 0, len(ids))
	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if l := a.children[id].listener; l != nil {
			listeners = append(listeners, l)
			targets = append(targets, id)
		}
	}
	a.mu.Unlock()

	if received {
		a.Publish(Event{Type: EventPriceReceived, NodeID: a.id, Price: price.Clone()})
	}

	for i, l := range listeners {
		if err := l.HandlePriceUpdate(price.Clone()); err != nil {
			a.logger.Error("failed to relay price to child", zap.String("child", targets[i]), zap.Error(err))
		}
	}

	a.logger.Debug("price published", zap.Float64("price", price.CurrentPrice), zap.Int("children", len(listeners)))
	a.Publish(Event{Type: EventPricePublished, NodeID: a.id, Price: price.Clone()})
	return nil
}

func (a *aggregator) sortedChildIDs() []string {
	ids := make([]string, 0, len(a.children))
	for id := range a.children {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
