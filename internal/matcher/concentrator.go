package matcher

import (
	"fmt"

	"github.com/anaelectric/powermatcher/pkg/market"
	"go.uber.org/zap"
)

// Concentrator is an inner node of the tree. It sums its children's bids,
// forwards the combined bid to its parent and relays the parent's prices down.
type Concentrator struct {
	*aggregator
	parentID string
	parent   BidSink
}

var _ Node = (*Concentrator)(nil)

// NewConcentrator creates a concentrator that forwards to parent under its own id.
// Only the parent's identifier and bid link are kept; the parent is not owned.
func NewConcentrator(id string, basis market.MarketBasis, parentID string, parent BidSink, logger *zap.Logger) (*Concentrator, error) {
	if parentID == "" || parent == nil {
		return nil, fmt.Errorf("%w: concentrator '%s' needs a parent", market.ErrInvalidArgument, id)
	}

	agg, err := newAggregator(id, basis, logger)
	if err != nil {
		return nil, err
	}

	return &Concentrator{
		aggregator: agg,
		parentID:   parentID,
		parent:     parent,
	}, nil
}

// ParentID returns the identifier of the parent node.
func (c *Concentrator) ParentID() string {
	return c.parentID
}

// SubmitChildBid stores the bid of childID, recomputes the combined bid and
// forwards it to the parent. A null bid or a MarketBasis mismatch fails with
// market.ErrInvalidArgument and leaves all state unchanged.
//
// Forwarding is fire-and-forget: a parent failure is logged, not returned.
func (c *Concentrator) SubmitChildBid(childID string, bid *market.Bid) error {
	c.upMu.Lock()
	defer c.upMu.Unlock()

	combined, err := c.storeBid(childID, bid)
	if err != nil {
		return err
	}

	c.forward(combined)
	return nil
}

// Disconnect forgets childID. When the child had a bid the combined bid is
// recomputed and forwarded again.
func (c *Concentrator) Disconnect(childID string) {
	c.upMu.Lock()
	defer c.upMu.Unlock()

	if combined := c.dropChild(childID); combined != nil {
		c.forward(combined)
	}
}

// ReceivePrice accepts a price from the parent and relays it unchanged to every
// child. A null price fails with market.ErrInvalidArgument and the last valid
// price stays in place. Prices outside the local range are accepted.
func (c *Concentrator) ReceivePrice(price *market.Price) error {
	return c.acceptPrice(price, true)
}

// HandlePriceUpdate implements PriceListener so a concentrator can be connected
// to its parent like any other child.
func (c *Concentrator) HandlePriceUpdate(price *market.Price) error {
	return c.ReceivePrice(price)
}

// LastReceivedPrice returns the last price accepted from the parent, or nil.
func (c *Concentrator) LastReceivedPrice() *market.Price {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReceived.Clone()
}

func (c *Concentrator) forward(combined *market.Bid) {
	if err := c.parent.SubmitChildBid(c.id, combined); err != nil {
		c.logger.Error("failed to forward aggregated bid",
			zap.String("parent", c.parentID), zap.Error(err))
		return
	}
	c.Publish(Event{Type: EventBidPublished, NodeID: c.id, Bid: combined})
}
