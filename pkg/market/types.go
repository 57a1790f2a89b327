package market

import (
	"fmt"
	"math"
)

// MarketBasis describes the discretised price axis shared by all bids and prices
// of one cluster. Two values are compatible only when they are equal by value (==).
type MarketBasis struct {
	Commodity    string  `json:"commodity" yaml:"commodity"`       // e.g. "electricity"
	Currency     string  `json:"currency" yaml:"currency"`         // e.g. "EUR"
	MinPrice     float64 `json:"min_price" yaml:"min_price"`       // Price of step 0
	MaxPrice     float64 `json:"max_price" yaml:"max_price"`       // Price of step PriceSteps-1
	PriceSteps   int     `json:"price_steps" yaml:"price_steps"`   // Number of discrete steps (>= 1)
	Significance int     `json:"significance" yaml:"significance"` // Decimal digits prices are rounded to
}

// Validate checks the MarketBasis invariants.
// Returns an error wrapping ErrInvalidArgument if a field is out of range.
func (mb MarketBasis) Validate() error {
	if math.IsNaN(mb.MinPrice) || math.IsNaN(mb.MaxPrice) || math.IsInf(mb.MinPrice, 0) || math.IsInf(mb.MaxPrice, 0) {
		return fmt.Errorf("%w: market basis prices must be finite", ErrInvalidArgument)
	}

	if mb.MinPrice >= mb.MaxPrice {
		return fmt.Errorf("%w: min_price (%g) must be below max_price (%g)", ErrInvalidArgument, mb.MinPrice, mb.MaxPrice)
	}

	if mb.PriceSteps < 1 {
		return fmt.Errorf("%w: price_steps must be >= 1, got %d", ErrInvalidArgument, mb.PriceSteps)
	}

	if mb.Significance < 0 {
		return fmt.Errorf("%w: significance must be >= 0, got %d", ErrInvalidArgument, mb.Significance)
	}

	return nil
}

// PriceIncrement returns the price distance between two adjacent steps.
// A single-step basis has no increment.
func (mb MarketBasis) PriceIncrement() float64 {
	if mb.PriceSteps <= 1 {
		return 0
	}
	return (mb.MaxPrice - mb.MinPrice) / float64(mb.PriceSteps-1)
}

// PriceOf returns the price of the given step, rounded to Significance digits.
// Steps outside [0, PriceSteps-1] are clamped.
func (mb MarketBasis) PriceOf(step int) float64 {
	step = mb.clampStep(step)
	return mb.Round(mb.MinPrice + float64(step)*mb.PriceIncrement())
}

// StepOf returns the step nearest to price, clamped to the axis.
func (mb MarketBasis) StepOf(price float64) int {
	increment := mb.PriceIncrement()
	if increment == 0 {
		return 0
	}
	return mb.clampStep(int(math.Round((price - mb.MinPrice) / increment)))
}

// Contains reports whether price lies inside [MinPrice, MaxPrice].
// Used for diagnostics only; out-of-range prices are still valid.
func (mb MarketBasis) Contains(price float64) bool {
	return price >= mb.MinPrice && price <= mb.MaxPrice
}

// Round rounds value to the basis significance.
func (mb MarketBasis) Round(value float64) float64 {
	scale := math.Pow(10, float64(mb.Significance))
	return math.Round(value*scale) / scale
}

// String returns a compact human-readable form.
func (mb MarketBasis) String() string {
	return fmt.Sprintf("MarketBasis{%s/%s [%g, %g] steps=%d significance=%d}",
		mb.Commodity, mb.Currency, mb.MinPrice, mb.MaxPrice, mb.PriceSteps, mb.Significance)
}

func (mb MarketBasis) clampStep(step int) int {
	if step < 0 {
		return 0
	}
	if step > mb.PriceSteps-1 {
		return mb.PriceSteps - 1
	}
	return step
}

// Price is a price on a MarketBasis. CurrentPrice may lie outside the basis range.
type Price struct {
	MarketBasis  MarketBasis `json:"market_basis"`
	CurrentPrice float64     `json:"current_price"`
}

// NewPrice creates a price. It does not validate; use ValidatePrice.
func NewPrice(basis MarketBasis, currentPrice float64) *Price {
	return &Price{MarketBasis: basis, CurrentPrice: currentPrice}
}

// ValidatePrice checks that p is a usable price: non-nil, valid basis and a
// finite current price. Values outside the basis range are accepted.
func ValidatePrice(p *Price) error {
	if p == nil {
		return fmt.Errorf("%w: price is null", ErrInvalidArgument)
	}

	if err := p.MarketBasis.Validate(); err != nil {
		return fmt.Errorf("price has invalid market basis: %w", err)
	}

	if math.IsNaN(p.CurrentPrice) || math.IsInf(p.CurrentPrice, 0) {
		return fmt.Errorf("%w: price is not a finite number", ErrInvalidArgument)
	}

	return nil
}

// InRange reports whether the current price lies inside its basis range.
func (p *Price) InRange() bool {
	return p.MarketBasis.Contains(p.CurrentPrice)
}

// Step returns the step of the current price on its basis (clamped).
func (p *Price) Step() int {
	return p.MarketBasis.StepOf(p.CurrentPrice)
}

// Clone returns a copy of p, or nil when p is nil.
func (p *Price) Clone() *Price {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// String implements fmt.Stringer.
func (p *Price) String() string {
	if p == nil {
		return "Price{null}"
	}
	return fmt.Sprintf("Price{%g %s}", p.CurrentPrice, p.MarketBasis.Currency)
}
