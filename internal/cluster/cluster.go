// Package cluster assembles a market tree from configuration and runs it: the
// clearing schedule, the agents' bid schedules, the optional Redis bridge and
// the optional HTTP status API.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/anaelectric/powermatcher/internal/agent"
	"github.com/anaelectric/powermatcher/internal/config"
	"github.com/anaelectric/powermatcher/internal/constraint"
	"github.com/anaelectric/powermatcher/internal/logging"
	"github.com/anaelectric/powermatcher/internal/matcher"
	"github.com/anaelectric/powermatcher/internal/scheduler"
	"github.com/anaelectric/powermatcher/pkg/bus"
	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Node kinds reported by the status API.
const (
	KindAuctioneer   = "auctioneer"
	KindConcentrator = "concentrator"
	KindAgent        = "agent"
)

// shutdownTimeout bounds the graceful stop of the status API.
const shutdownTimeout = 5 * time.Second

// Cluster is one running market tree.
type Cluster struct {
	cfg    *config.Config
	runID  string
	logger *zap.Logger
	clock  scheduler.Clock

	auctioneer    *matcher.Auctioneer
	concentrators map[string]*matcher.Concentrator
	agents        map[string]*agent.ScheduledAgent
	devices       map[string]*agent.Device

	bus *bus.Client
}

// Option customises Build.
type Option func(*Cluster)

// WithClock replaces the wall clock driving the schedules.
func WithClock(clock scheduler.Clock) Option {
	return func(c *Cluster) { c.clock = clock }
}

// WithBus uses client instead of dialling cfg.Redis. The cluster closes it.
func WithBus(client *bus.Client) Option {
	return func(c *Cluster) { c.bus = client }
}

// Build creates every node and agent of cfg and connects them. cfg must have
// passed Validate.
func Build(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Cluster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cluster{
		cfg:           cfg,
		runID:         uuid.New().String(),
		clock:         scheduler.Real(),
		concentrators: make(map[string]*matcher.Concentrator),
		agents:        make(map[string]*agent.ScheduledAgent),
		devices:       make(map[string]*agent.Device),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.With(zap.String("cluster", cfg.Cluster), zap.String("run_id", c.runID))

	auctioneer, err := matcher.NewAuctioneer(cfg.Auctioneer.ID, cfg.MarketBasis, logging.Component(c.logger, "auctioneer", cfg.Auctioneer.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to create auctioneer: %w", err)
	}
	c.auctioneer = auctioneer

	// Parents are created before their children.
	for _, id := range cfg.ConcentratorOrder() {
		parentID := cfg.Concentrators[id].Parent
		parent := c.matcher(parentID)

		conc, err := matcher.NewConcentrator(id, cfg.MarketBasis, parentID, parent, logging.Component(c.logger, "concentrator", id))
		if err != nil {
			return nil, fmt.Errorf("failed to create concentrator '%s': %w", id, err)
		}
		if err := parent.Connect(id, conc); err != nil {
			return nil, fmt.Errorf("failed to connect concentrator '%s' to '%s': %w", id, parentID, err)
		}
		c.concentrators[id] = conc
	}

	for _, id := range cfg.AgentIDs() {
		if err := c.buildAgent(id, cfg.Agents[id]); err != nil {
			return nil, err
		}
	}

	if c.bus == nil && cfg.Redis != nil {
		client, err := bus.NewClientFromURL(cfg.Redis.URL, cfg.Cluster)
		if err != nil {
			return nil, fmt.Errorf("failed to create bus client: %w", err)
		}
		c.bus = client
	}

	c.logger.Info("cluster built",
		zap.String("auctioneer", cfg.Auctioneer.ID),
		zap.Int("concentrators", len(c.concentrators)),
		zap.Int("agents", len(c.agents)),
		zap.Bool("bus", c.bus != nil))
	return c, nil
}

func (c *Cluster) buildAgent(id string, ac config.AgentConfig) error {
	var producer agent.BidProducer
	var handler agent.ControlHandler

	switch ac.Kind {
	case config.KindPVPanel:
		seed := rand.Uint64()
		if ac.Seed != nil {
			seed = *ac.Seed
		}
		pv, err := agent.NewPVPanel(*ac.MinimumDemand, *ac.MaximumDemand, seed)
		if err != nil {
			return fmt.Errorf("failed to create agent '%s': %w", id, err)
		}
		producer = pv

	case config.KindDevice:
		list, err := constraint.NewList(ac.Constraints...)
		if err != nil {
			return fmt.Errorf("failed to create agent '%s': %w", id, err)
		}
		device, err := agent.NewDevice(ac.MinPower, ac.MaxPower, list, ac.IncludeZero)
		if err != nil {
			return fmt.Errorf("failed to create agent '%s': %w", id, err)
		}
		producer = device
		handler = device
		c.devices[id] = device

	default:
		return fmt.Errorf("agent '%s': unsupported kind %s", id, ac.Kind)
	}

	parent := c.matcher(ac.Parent)
	a, err := agent.New(agent.Config{
		ID:       id,
		ParentID: ac.Parent,
		Basis:    c.cfg.MarketBasis,
		Producer: producer,
		Parent:   parent,
		Handler:  handler,
		Logger:   logging.Component(c.logger, "agent", id),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent '%s': %w", id, err)
	}
	if err := parent.Connect(id, a); err != nil {
		return fmt.Errorf("failed to connect agent '%s' to '%s': %w", id, ac.Parent, err)
	}
	c.agents[id] = a
	return nil
}

// matcher returns the auctioneer or concentrator with id, or nil.
func (c *Cluster) matcher(id string) matcher.Node {
	if id == c.auctioneer.ID() {
		return c.auctioneer
	}
	if conc, ok := c.concentrators[id]; ok {
		return conc
	}
	return nil
}

// Name returns the cluster name.
func (c *Cluster) Name() string { return c.cfg.Cluster }

// RunID identifies this process's instance of the cluster.
func (c *Cluster) RunID() string { return c.runID }

// Auctioneer returns the root of the tree.
func (c *Cluster) Auctioneer() *matcher.Auctioneer { return c.auctioneer }

// Concentrator returns the concentrator with id.
func (c *Cluster) Concentrator(id string) (*matcher.Concentrator, bool) {
	conc, ok := c.concentrators[id]
	return conc, ok
}

// Agent returns the agent with id.
func (c *Cluster) Agent(id string) (*agent.ScheduledAgent, bool) {
	a, ok := c.agents[id]
	return a, ok
}

// Device returns the device producer behind agent id, if it is a device.
func (c *Cluster) Device(id string) (*agent.Device, bool) {
	d, ok := c.devices[id]
	return d, ok
}

// observables returns every node and agent in a fixed order: the auctioneer,
// concentrators parents first, then agents sorted by id.
func (c *Cluster) observables() []observable {
	out := []observable{c.auctioneer}
	for _, id := range c.cfg.ConcentratorOrder() {
		out = append(out, c.concentrators[id])
	}
	for _, id := range c.cfg.AgentIDs() {
		out = append(out, c.agents[id])
	}
	return out
}

type observable interface {
	AddObserver(o matcher.Observer)
	RemoveObserver(o matcher.Observer)
}

// BidUpdateAll asks every agent for a fresh bid once.
func (c *Cluster) BidUpdateAll() error {
	var errs []error
	for _, id := range c.cfg.AgentIDs() {
		if err := c.agents[id].DoBidUpdate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear runs one clearing cycle at the auctioneer.
func (c *Cluster) Clear() (*market.Price, error) {
	return c.auctioneer.Clear()
}

// Run starts every schedule and blocks until ctx is cancelled or a component
// fails. Agents and tasks are stopped before it returns; retained bids and
// prices stay readable.
func (c *Cluster) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(c.clock, c.logger)
	defer sched.Stop()

	g, gctx := errgroup.WithContext(runCtx)
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	if c.bus != nil {
		bridge := newBridge(c.bus, c.auctioneer, c.logger)
		if err := bridge.start(gctx, c.observables()); err != nil {
			return abort(err)
		}
		defer bridge.stop(c.observables())
		g.Go(func() error { return bridge.publishLoop(gctx) })
		g.Go(func() error { return bridge.overrideLoop(gctx) })
	}

	interval := c.cfg.Auctioneer.ClearingInterval
	_, err := sched.ScheduleAtFixedRate(gctx, "clearing", interval, interval, func(context.Context) {
		if _, err := c.auctioneer.Clear(); err != nil && !errors.Is(err, matcher.ErrNoBid) {
			c.logger.Error("clearing cycle failed", zap.Error(err))
		}
	})
	if err != nil {
		return abort(fmt.Errorf("failed to schedule clearing: %w", err))
	}

	for _, id := range c.cfg.AgentIDs() {
		a := c.agents[id]
		if err := a.Start(gctx, sched, c.cfg.Agents[id].BidUpdateRate); err != nil {
			return abort(err)
		}
		defer a.Stop()
	}

	if c.cfg.API != nil {
		server := &http.Server{
			Addr:              c.cfg.API.Listen,
			Handler:           NewRouter(c),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			c.logger.Info("status API listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	c.logger.Info("cluster running", zap.Duration("clearing_interval", interval))

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	c.logger.Info("cluster stopping")
	return err
}

// Close releases the bus connection.
func (c *Cluster) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}
