package market

import (
	"encoding/json"
	"fmt"
	"math"
)

// Bid is an agent's demand as a function of price: one demand sample per
// MarketBasis price step. Bids are immutable once built; accessors return copies.
//
// Demand is expected to be non-increasing with price. Producing agents enforce
// that; aggregation only checks MarketBasis compatibility.
type Bid struct {
	basis  MarketBasis
	demand []float64
}

// NewBid creates a bid after validating the basis and the demand length.
// The demand slice is copied.
func NewBid(basis MarketBasis, demand []float64) (*Bid, error) {
	if err := basis.Validate(); err != nil {
		return nil, fmt.Errorf("bid has invalid market basis: %w", err)
	}

	if len(demand) != basis.PriceSteps {
		return nil, fmt.Errorf("%w: bid has %d demand samples, market basis has %d price steps",
			ErrInvalidArgument, len(demand), basis.PriceSteps)
	}

	for i, d := range demand {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("%w: demand at step %d is not a finite number", ErrInvalidArgument, i)
		}
	}

	copied := make([]float64, len(demand))
	copy(copied, demand)

	return &Bid{basis: basis, demand: copied}, nil
}

// FlatDemand creates a bid with the same demand at every price step.
func FlatDemand(basis MarketBasis, demand float64) (*Bid, error) {
	if err := basis.Validate(); err != nil {
		return nil, fmt.Errorf("bid has invalid market basis: %w", err)
	}

	samples := make([]float64, basis.PriceSteps)
	for i := range samples {
		samples[i] = demand
	}
	return NewBid(basis, samples)
}

// ZeroBid creates a bid without demand at any price.
func ZeroBid(basis MarketBasis) (*Bid, error) {
	return FlatDemand(basis, 0)
}

// MarketBasis returns the basis this bid is expressed on.
func (b *Bid) MarketBasis() MarketBasis {
	return b.basis
}

// Demand returns a copy of the demand samples.
func (b *Bid) Demand() []float64 {
	out := make([]float64, len(b.demand))
	copy(out, b.demand)
	return out
}

// Len returns the number of demand samples.
func (b *Bid) Len() int {
	return len(b.demand)
}

// DemandAt returns the demand at step, clamping the step to the axis.
func (b *Bid) DemandAt(step int) float64 {
	return b.demand[b.basis.clampStep(step)]
}

// DemandAtPrice returns the demand at the step nearest to price.
func (b *Bid) DemandAtPrice(price float64) float64 {
	return b.demand[b.basis.StepOf(price)]
}

// MaximumDemand returns the largest demand sample.
func (b *Bid) MaximumDemand() float64 {
	max := b.demand[0]
	for _, d := range b.demand[1:] {
		if d > max {
			max = d
		}
	}
	return max
}

// MinimumDemand returns the smallest demand sample.
func (b *Bid) MinimumDemand() float64 {
	min := b.demand[0]
	for _, d := range b.demand[1:] {
		if d < min {
			min = d
		}
	}
	return min
}

// IsNonIncreasing reports whether demand never rises with price.
func (b *Bid) IsNonIncreasing() bool {
	for i := 1; i < len(b.demand); i++ {
		if b.demand[i] > b.demand[i-1] {
			return false
		}
	}
	return true
}

// Add returns the elementwise sum of b and other.
// Both bids must share the same MarketBasis.
func (b *Bid) Add(other *Bid) (*Bid, error) {
	if other == nil {
		return nil, fmt.Errorf("%w: bid is null", ErrInvalidArgument)
	}
	if b.basis != other.basis {
		return nil, fmt.Errorf("%w: cannot add bids on different market bases (%s vs %s)",
			ErrInvalidArgument, b.basis, other.basis)
	}

	sum := make([]float64, len(b.demand))
	for i := range sum {
		sum[i] = b.demand[i] + other.demand[i]
	}
	return &Bid{basis: b.basis, demand: sum}, nil
}

// Equal reports whether two bids have the same basis and demand.
func (b *Bid) Equal(other *Bid) bool {
	if b == nil || other == nil {
		return b == other
	}
	if b.basis != other.basis || len(b.demand) != len(other.demand) {
		return false
	}
	for i := range b.demand {
		if b.demand[i] != other.demand[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (b *Bid) String() string {
	if b == nil {
		return "Bid{null}"
	}
	return fmt.Sprintf("Bid{%v}", b.demand)
}

type bidJSON struct {
	MarketBasis MarketBasis `json:"market_basis"`
	Demand      []float64   `json:"demand"`
}

// MarshalJSON implements json.Marshaler.
func (b *Bid) MarshalJSON() ([]byte, error) {
	return json.Marshal(bidJSON{MarketBasis: b.basis, Demand: b.demand})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded bid is validated.
func (b *Bid) UnmarshalJSON(data []byte) error {
	var raw bidJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal bid: %w", err)
	}

	decoded, err := NewBid(raw.MarketBasis, raw.Demand)
	if err != nil {
		return err
	}

	*b = *decoded
	return nil
}
