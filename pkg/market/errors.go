package market

import "errors"

var (
	// ErrInvalidArgument is returned for null bids/prices, MarketBasis
	// mismatches and malformed values. State is never mutated when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound signals a query without a result. It is not fatal.
	ErrNotFound = errors.New("not found")
)

// IsInvalidArgument returns true if err wraps ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsNotFound returns true if err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
