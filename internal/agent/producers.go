package agent

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/anaelectric/powermatcher/internal/constraint"
	"github.com/anaelectric/powermatcher/pkg/market"
)

// Defaults of a PV panel: it produces between 600 W and 700 W regardless of price.
const (
	DefaultPVMinimumDemand = -700.0
	DefaultPVMaximumDemand = -600.0
)

// PVPanel bids a flat, price-insensitive demand drawn uniformly from
// [MinimumDemand, MaximumDemand) on every update.
type PVPanel struct {
	minimum float64
	maximum float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPVPanel creates a PV panel producer. The seed makes the demand sequence
// reproducible.
func NewPVPanel(minimumDemand, maximumDemand float64, seed uint64) (*PVPanel, error) {
	if minimumDemand > maximumDemand {
		return nil, fmt.Errorf("%w: minimum demand %g exceeds maximum demand %g",
			market.ErrInvalidArgument, minimumDemand, maximumDemand)
	}
	return &PVPanel{
		minimum: minimumDemand,
		maximum: maximumDemand,
		rnd:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// ProduceBid implements BidProducer.
func (p *PVPanel) ProduceBid(basis market.MarketBasis) (*market.Bid, error) {
	p.mu.Lock()
	demand := p.minimum + (p.maximum-p.minimum)*p.rnd.Float64()
	p.mu.Unlock()

	return market.FlatDemand(basis, demand)
}

// Device is a price-responsive consumer. Its bid falls linearly from MaxPower
// at the lowest price to MinPower at the highest, rounded to the powers the
// device can actually run at. Prices it receives are turned into an allocated
// power using its last bid.
type Device struct {
	minPower    float64
	maxPower    float64
	constraints constraint.List
	includeZero bool

	mu        sync.Mutex
	lastBid   *market.Bid
	allocated float64
	allocates int
}

var (
	_ BidProducer    = (*Device)(nil)
	_ ControlHandler = (*Device)(nil)
)

// NewDevice creates a device producer. An empty constraint list means the
// device can run at any power.
func NewDevice(minPower, maxPower float64, constraints constraint.List, includeZero bool) (*Device, error) {
	if minPower > maxPower {
		return nil, fmt.Errorf("%w: minimum power %g exceeds maximum power %g",
			market.ErrInvalidArgument, minPower, maxPower)
	}
	return &Device{
		minPower:    minPower,
		maxPower:    maxPower,
		constraints: constraints,
		includeZero: includeZero,
	}, nil
}

// ProduceBid implements BidProducer.
func (d *Device) ProduceBid(basis market.MarketBasis) (*market.Bid, error) {
	demand := make([]float64, basis.PriceSteps)
	last := float64(basis.PriceSteps - 1)
	for i := range demand {
		frac := 0.0
		if last > 0 {
			frac = float64(i) / last
		}
		demand[i] = d.maxPower - frac*(d.maxPower-d.minPower)
	}

	bid, err := market.NewBid(basis, demand)
	if err != nil {
		return nil, err
	}

	if len(d.constraints) > 0 || d.includeZero {
		list := d.constraints
		if len(list) == 0 {
			list = constraint.List{constraint.Range{Lower: d.minPower, Upper: d.maxPower}}
		}
		if bid, err = constraint.RoundBid(bid, list, d.includeZero); err != nil {
			return nil, fmt.Errorf("failed to round device bid: %w", err)
		}
	}

	d.mu.Lock()
	d.lastBid = bid
	d.mu.Unlock()
	return bid, nil
}

// HandleControl allocates the demand of the last bid at the step of price.
// Without a bid there is nothing to allocate.
func (d *Device) HandleControl(price *market.Price) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastBid == nil {
		return nil
	}
	d.allocated = d.lastBid.DemandAt(d.lastBid.MarketBasis().StepOf(price.CurrentPrice))
	d.allocates++
	return nil
}

// Allocated returns the power allocated by the last price and whether any
// price has been applied yet.
func (d *Device) Allocated() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated, d.allocates > 0
}
