// Package agent provides leaf participants of the market. A ScheduledAgent
// periodically asks its BidProducer for a bid, submits it to its parent and
// hands every received price to a ControlHandler.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anaelectric/powermatcher/internal/matcher"
	"github.com/anaelectric/powermatcher/internal/scheduler"
	"github.com/anaelectric/powermatcher/pkg/market"
	"go.uber.org/zap"
)

// BidProducer computes the next bid of an agent.
type BidProducer interface {
	ProduceBid(basis market.MarketBasis) (*market.Bid, error)
}

// BidProducerFunc adapts a function to BidProducer.
type BidProducerFunc func(basis market.MarketBasis) (*market.Bid, error)

// ProduceBid calls f.
func (f BidProducerFunc) ProduceBid(basis market.MarketBasis) (*market.Bid, error) {
	return f(basis)
}

// ControlHandler turns a received price into a control decision for the
// device behind an agent.
type ControlHandler interface {
	HandleControl(price *market.Price) error
}

// Config describes a ScheduledAgent.
type Config struct {
	ID       string
	ParentID string
	Basis    market.MarketBasis
	Producer BidProducer
	// Parent receives the agent's bids. Nil means the agent is not connected
	// and DoBidUpdate does nothing.
	Parent matcher.BidSink
	// Handler is optional; a nil handler means there is nothing to control.
	Handler ControlHandler
	Logger  *zap.Logger
}

// ScheduledAgent is a leaf of the market tree.
type ScheduledAgent struct {
	matcher.Observable

	id       string
	parentID string
	basis    market.MarketBasis
	producer BidProducer
	handler  ControlHandler
	logger   *zap.Logger

	mu        sync.Mutex
	parent    matcher.BidSink
	lastBid   *market.Bid
	lastPrice *market.Price
	task      *scheduler.Task
}

var _ matcher.PriceListener = (*ScheduledAgent)(nil)

// New validates cfg and creates an agent.
func New(cfg Config) (*ScheduledAgent, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: agent id cannot be empty", market.ErrInvalidArgument)
	}
	if err := cfg.Basis.Validate(); err != nil {
		return nil, fmt.Errorf("agent '%s': %w", cfg.ID, err)
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("%w: agent '%s' has no bid producer", market.ErrInvalidArgument, cfg.ID)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduledAgent{
		id:       cfg.ID,
		parentID: cfg.ParentID,
		basis:    cfg.Basis,
		producer: cfg.Producer,
		handler:  cfg.Handler,
		logger:   logger,
		parent:   cfg.Parent,
	}, nil
}

// ID returns the agent identifier.
func (a *ScheduledAgent) ID() string { return a.id }

// ParentID returns the identifier of the node the agent wants to bid to.
func (a *ScheduledAgent) ParentID() string { return a.parentID }

// MarketBasis returns the basis the agent bids in.
func (a *ScheduledAgent) MarketBasis() market.MarketBasis { return a.basis }

// Connect sets the parent link. A nil sink disconnects the agent.
func (a *ScheduledAgent) Connect(parent matcher.BidSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parent = parent
}

// IsConnected reports whether the agent has a parent to bid to.
func (a *ScheduledAgent) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.parent != nil
}

// DoBidUpdate runs one bid update: produce, validate and submit. An agent
// without a parent skips the update.
func (a *ScheduledAgent) DoBidUpdate() error {
	a.mu.Lock()
	parent := a.parent
	a.mu.Unlock()

	if parent == nil {
		a.logger.Debug("not connected, skipping bid update")
		return nil
	}

	bid, err := a.producer.ProduceBid(a.basis)
	if err != nil {
		return fmt.Errorf("agent '%s' failed to produce bid: %w", a.id, err)
	}
	if bid == nil {
		return fmt.Errorf("%w: agent '%s' produced a null bid", market.ErrInvalidArgument, a.id)
	}
	if bid.MarketBasis() != a.basis {
		return fmt.Errorf("%w: agent '%s' produced a bid for %s", market.ErrInvalidArgument, a.id, bid.MarketBasis())
	}

	if err := parent.SubmitChildBid(a.id, bid); err != nil {
		return fmt.Errorf("agent '%s' failed to submit bid to '%s': %w", a.id, a.parentID, err)
	}

	a.mu.Lock()
	a.lastBid = bid
	a.mu.Unlock()

	a.logger.Debug("bid published", zap.Float64("max_demand", bid.MaximumDemand()), zap.Float64("min_demand", bid.MinimumDemand()))
	a.Publish(matcher.Event{Type: matcher.EventBidPublished, NodeID: a.id, Bid: bid})
	return nil
}

// Start schedules DoBidUpdate every period, starting immediately. Errors of a
// single update are logged and the schedule continues.
func (a *ScheduledAgent) Start(ctx context.Context, sched *scheduler.Scheduler, period time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.task != nil {
		return fmt.Errorf("agent '%s' is already started", a.id)
	}

	task, err := sched.ScheduleAtFixedRate(ctx, "agent/"+a.id, 0, period, func(context.Context) {
		if err := a.DoBidUpdate(); err != nil {
			a.logger.Warn("bid update failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start agent '%s': %w", a.id, err)
	}
	a.task = task

	a.logger.Info("agent activated", zap.Duration("bid_update_rate", period))
	return nil
}

// Stop cancels the periodic bid update. Retained bid and price are kept.
func (a *ScheduledAgent) Stop() {
	a.mu.Lock()
	task := a.task
	a.task = nil
	a.mu.Unlock()

	if task != nil {
		task.Cancel()
		a.logger.Info("agent deactivated")
	}
}

// HandlePriceUpdate records price and passes it to the control handler.
// A null or malformed price is rejected and the last price is kept.
func (a *ScheduledAgent) HandlePriceUpdate(price *market.Price) error {
	if err := market.ValidatePrice(price); err != nil {
		a.logger.Warn("price rejected", zap.Error(err))
		a.Publish(matcher.Event{Type: matcher.EventPriceRejected, NodeID: a.id, Error: err.Error()})
		return err
	}

	a.mu.Lock()
	a.lastPrice = price.Clone()
	a.mu.Unlock()

	a.logger.Debug("price received", zap.Float64("price", price.CurrentPrice))
	a.Publish(matcher.Event{Type: matcher.EventPriceReceived, NodeID: a.id, Price: price.Clone()})

	if a.handler == nil {
		return nil
	}
	if err := a.handler.HandleControl(price.Clone()); err != nil {
		return fmt.Errorf("agent '%s' failed to apply price: %w", a.id, err)
	}
	return nil
}

// LastPriceUpdate returns the last accepted price, or nil.
func (a *ScheduledAgent) LastPriceUpdate() *market.Price {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPrice.Clone()
}

// LastBid returns the last bid submitted to the parent, or nil.
func (a *ScheduledAgent) LastBid() *market.Bid {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastBid
}
