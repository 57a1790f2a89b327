// Package constraint projects wanted power values onto the discrete set of
// power levels a device can actually run at.
package constraint

import (
	"fmt"
	"math"

	"github.com/anaelectric/powermatcher/pkg/market"
)

// Constraint is one allowed power range (or singleton) of a device.
type Constraint interface {
	LowerBound() float64
	UpperBound() float64
	// ClosestValue returns the value inside the constraint nearest to target.
	ClosestValue(target float64) float64
}

// Range is an inclusive power range in watts. Lower == Upper is a singleton.
type Range struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// Single returns a range that only allows value.
func Single(value float64) Range {
	return Range{Lower: value, Upper: value}
}

// LowerBound implements Constraint.
func (r Range) LowerBound() float64 { return r.Lower }

// UpperBound implements Constraint.
func (r Range) UpperBound() float64 { return r.Upper }

// ClosestValue implements Constraint by clamping target into the range.
func (r Range) ClosestValue(target float64) float64 {
	return math.Max(r.Lower, math.Min(r.Upper, target))
}

// Contains reports whether value lies inside the range.
func (r Range) Contains(value float64) bool {
	return value >= r.Lower && value <= r.Upper
}

// Validate checks the range bounds.
func (r Range) Validate() error {
	if math.IsNaN(r.Lower) || math.IsNaN(r.Upper) {
		return fmt.Errorf("%w: constraint bounds must be numbers", market.ErrInvalidArgument)
	}
	if r.Lower > r.Upper {
		return fmt.Errorf("%w: constraint lower bound %g exceeds upper bound %g", market.ErrInvalidArgument, r.Lower, r.Upper)
	}
	return nil
}

func (r Range) String() string {
	if r.Lower == r.Upper {
		return fmt.Sprintf("{%gW}", r.Lower)
	}
	return fmt.Sprintf("[%gW, %gW]", r.Lower, r.Upper)
}

// List is an ordered set of disjoint constraints. Iteration order decides
// ties when rounding.
type List []Constraint

// NewList builds a list from ranges, rejecting inverted or overlapping ones.
func NewList(ranges ...Range) (List, error) {
	list := make(List, 0, len(ranges))
	for i, r := range ranges {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		for j, prev := range ranges[:i] {
			if r.Lower <= prev.Upper && prev.Lower <= r.Upper {
				return nil, fmt.Errorf("%w: constraint %d %s overlaps constraint %d %s",
					market.ErrInvalidArgument, i, r, j, prev)
			}
		}
		list = append(list, r)
	}
	return list, nil
}

// WithZero returns a copy of the list extended with a zero-watt singleton.
// The list is returned unchanged when zero is already representable.
func (l List) WithZero() List {
	out := make(List, 0, len(l)+1)
	out = append(out, l...)
	for _, c := range l {
		if c.LowerBound() <= 0 && c.UpperBound() >= 0 {
			return out
		}
	}
	return append(out, Single(0))
}

// Contains reports whether value is representable by any constraint.
func (l List) Contains(value float64) bool {
	for _, c := range l {
		if value >= c.LowerBound() && value <= c.UpperBound() {
			return true
		}
	}
	return false
}
