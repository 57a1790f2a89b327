package cluster

import (
	"context"
	"fmt"

	"github.com/anaelectric/powermatcher/internal/matcher"
	"github.com/anaelectric/powermatcher/pkg/bus"
	"github.com/anaelectric/powermatcher/pkg/market"
	"go.uber.org/zap"
)

// bridgeQueueSize bounds the events waiting to be written to Redis.
const bridgeQueueSize = 256

// bridge mirrors the tree onto the bus: every node event is published and the
// last price and bid of each node are stored as snapshots. Price overrides
// arriving on the bus are handed to the auctioneer.
type bridge struct {
	client     *bus.Client
	auctioneer *matcher.Auctioneer
	logger     *zap.Logger

	queue     chan matcher.Event
	overrides *bus.OverrideSubscription
}

func newBridge(client *bus.Client, auctioneer *matcher.Auctioneer, logger *zap.Logger) *bridge {
	return &bridge{
		client:     client,
		auctioneer: auctioneer,
		logger:     logger.Named("bridge"),
		queue:      make(chan matcher.Event, bridgeQueueSize),
	}
}

// start checks connectivity, subscribes to overrides and registers the bridge
// with every node.
func (b *bridge) start(ctx context.Context, nodes []observable) error {
	if err := b.client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sub, err := b.client.SubscribeOverrides(ctx)
	if err != nil {
		return err
	}
	b.overrides = sub

	for _, n := range nodes {
		n.AddObserver(b)
	}
	return nil
}

func (b *bridge) stop(nodes []observable) {
	for _, n := range nodes {
		n.RemoveObserver(b)
	}
	if b.overrides != nil {
		b.overrides.Close()
	}
}

// Update implements matcher.Observer. Node locks may be held up the call
// chain, so the event is only queued; a full queue drops it.
func (b *bridge) Update(event matcher.Event) {
	select {
	case b.queue <- event:
	default:
		b.logger.Warn("event queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("node", event.NodeID))
	}
}

func (b *bridge) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-b.queue:
			if err := b.publish(ctx, event); err != nil {
				b.logger.Error("failed to mirror event", zap.String("event_type", string(event.Type)), zap.Error(err))
			}
		}
	}
}

func (b *bridge) publish(ctx context.Context, event matcher.Event) error {
	switch event.Type {
	case matcher.EventPricePublished, matcher.EventPriceReceived:
		if err := b.client.StorePrice(ctx, event.NodeID, event.Price); err != nil {
			return err
		}
	case matcher.EventAggregatedBid, matcher.EventBidPublished:
		if err := b.client.StoreBid(ctx, event.NodeID, event.Bid); err != nil {
			return err
		}
	}

	e := b.client.NewEvent(string(event.Type), event.NodeID)
	e.ChildID = event.ChildID
	e.Bid = event.Bid
	e.Price = event.Price
	e.Error = event.Error
	e.Timestamp = event.Timestamp
	return b.client.PublishEvent(ctx, e)
}

// overrideLoop applies bus price overrides until ctx is done. A null override
// is passed on as a null price and rejected by the auctioneer.
func (b *bridge) overrideLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case o, ok := <-b.overrides.Events():
			if !ok {
				return nil
			}
			b.applyOverride(o)
		case err, ok := <-b.overrides.Errors():
			if !ok {
				return nil
			}
			b.logger.Warn("override subscription error", zap.Error(err))
		}
	}
}

func (b *bridge) applyOverride(o *bus.PriceOverride) {
	var price *market.Price
	if o.Price != nil {
		price = market.NewPrice(b.auctioneer.MarketBasis(), *o.Price)
	}

	if err := b.auctioneer.PublishPrice(price); err != nil {
		b.logger.Warn("price override rejected", zap.String("override_id", o.ID), zap.Error(err))
		return
	}
	b.logger.Info("price override applied", zap.String("override_id", o.ID), zap.Float64("price", price.CurrentPrice))
}
