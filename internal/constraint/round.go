package constraint

import (
	"fmt"
	"math"

	"github.com/anaelectric/powermatcher/pkg/market"
)

// errEmptyList is wrapped whenever a rounding operation gets no constraints.
var errEmptyList = fmt.Errorf("%w: constraint list is empty", market.ErrInvalidArgument)

// Round returns the representable value closest to wanted. Ties go to the
// constraint that comes first in the list. With includeZero the list is first
// extended with a zero-watt singleton.
func Round(list List, wanted float64, includeZero bool) (float64, error) {
	if len(list) == 0 {
		return 0, errEmptyList
	}
	if includeZero {
		list = list.WithZero()
	}

	result := list[0].ClosestValue(wanted)
	for _, c := range list[1:] {
		candidate := c.ClosestValue(wanted)
		if math.Abs(candidate-wanted) < math.Abs(result-wanted) {
			result = candidate
		}
	}
	return result, nil
}

// Floor returns the largest representable value <= wanted.
// Returns an error wrapping market.ErrNotFound when every constraint lies above wanted.
func Floor(list List, wanted float64) (float64, error) {
	if len(list) == 0 {
		return 0, errEmptyList
	}

	found := false
	var result float64
	for _, c := range list {
		if c.LowerBound() <= wanted && c.UpperBound() >= wanted {
			return wanted, nil
		}
		if upper := c.UpperBound(); upper < wanted && (!found || upper > result) {
			result = upper
			found = true
		}
	}

	if !found {
		return 0, fmt.Errorf("%w: no allowed power at or below %gW", market.ErrNotFound, wanted)
	}
	return result, nil
}

// Ceil returns the smallest representable value >= wanted.
// Returns an error wrapping market.ErrNotFound when every constraint lies below wanted.
func Ceil(list List, wanted float64) (float64, error) {
	if len(list) == 0 {
		return 0, errEmptyList
	}

	found := false
	var result float64
	for _, c := range list {
		if c.LowerBound() <= wanted && c.UpperBound() >= wanted {
			return wanted, nil
		}
		if lower := c.LowerBound(); lower > wanted && (!found || lower < result) {
			result = lower
			found = true
		}
	}

	if !found {
		return 0, fmt.Errorf("%w: no allowed power at or above %gW", market.ErrNotFound, wanted)
	}
	return result, nil
}

// RoundBid rounds every demand sample of bid onto the list.
func RoundBid(bid *market.Bid, list List, includeZero bool) (*market.Bid, error) {
	if bid == nil {
		return nil, fmt.Errorf("%w: bid is null", market.ErrInvalidArgument)
	}
	if len(list) == 0 {
		return nil, errEmptyList
	}
	if includeZero {
		list = list.WithZero()
	}

	demand := bid.Demand()
	for i, d := range demand {
		rounded, err := Round(list, d, false)
		if err != nil {
			return nil, err
		}
		demand[i] = rounded
	}
	return market.NewBid(bid.MarketBasis(), demand)
}

// ApplyFloor raises every demand sample below minDemand to minDemand, after
// rounding minDemand itself onto the list.
func ApplyFloor(bid *market.Bid, list List, minDemand float64) (*market.Bid, error) {
	return applyBound(bid, list, minDemand, math.Max)
}

// ApplyCeiling lowers every demand sample above maxDemand to maxDemand, after
// rounding maxDemand itself onto the list.
func ApplyCeiling(bid *market.Bid, list List, maxDemand float64) (*market.Bid, error) {
	return applyBound(bid, list, maxDemand, math.Min)
}

func applyBound(bid *market.Bid, list List, bound float64, pick func(a, b float64) float64) (*market.Bid, error) {
	if bid == nil {
		return nil, fmt.Errorf("%w: bid is null", market.ErrInvalidArgument)
	}

	rounded, err := Round(list, bound, false)
	if err != nil {
		return nil, err
	}

	demand := bid.Demand()
	for i, d := range demand {
		demand[i] = pick(d, rounded)
	}
	return market.NewBid(bid.MarketBasis(), demand)
}
