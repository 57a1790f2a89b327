package bus

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/anaelectric/powermatcher/pkg/market"
)

// Snapshots are stored as Redis hashes. The market basis and the demand curve
// are JSON-encoded into single fields; scalars are stored as strings.

// PriceToHash converts a price snapshot to Redis hash format.
func PriceToHash(s *PriceSnapshot) (map[string]interface{}, error) {
	if err := market.ValidatePrice(s.Price); err != nil {
		return nil, err
	}

	basisJSON, err := json.Marshal(s.Price.MarketBasis)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal market basis: %w", err)
	}

	return map[string]interface{}{
		"node_id":       s.NodeID,
		"current_price": strconv.FormatFloat(s.Price.CurrentPrice, 'g', -1, 64),
		"market_basis":  string(basisJSON),
		"updated_at_ms": s.UpdatedAtMs,
	}, nil
}

// HashToPrice converts a Redis hash back to a price snapshot.
func HashToPrice(hash map[string]string) (*PriceSnapshot, error) {
	current, err := strconv.ParseFloat(hash["current_price"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid current_price field: %w", err)
	}

	var basis market.MarketBasis
	if err := json.Unmarshal([]byte(hash["market_basis"]), &basis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market_basis: %w", err)
	}

	price := market.NewPrice(basis, current)
	if err := market.ValidatePrice(price); err != nil {
		return nil, fmt.Errorf("stored price is invalid: %w", err)
	}

	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &PriceSnapshot{
		NodeID:      hash["node_id"],
		Price:       price,
		UpdatedAtMs: updatedAtMs,
	}, nil
}

// BidToHash converts a bid snapshot to Redis hash format.
func BidToHash(s *BidSnapshot) (map[string]interface{}, error) {
	if s.Bid == nil {
		return nil, fmt.Errorf("%w: bid is null", market.ErrInvalidArgument)
	}

	basisJSON, err := json.Marshal(s.Bid.MarketBasis())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal market basis: %w", err)
	}
	demandJSON, err := json.Marshal(s.Bid.Demand())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal demand: %w", err)
	}

	return map[string]interface{}{
		"node_id":       s.NodeID,
		"market_basis":  string(basisJSON),
		"demand":        string(demandJSON),
		"updated_at_ms": s.UpdatedAtMs,
	}, nil
}

// HashToBid converts a Redis hash back to a bid snapshot. The demand curve is
// validated against the stored basis.
func HashToBid(hash map[string]string) (*BidSnapshot, error) {
	var basis market.MarketBasis
	if err := json.Unmarshal([]byte(hash["market_basis"]), &basis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market_basis: %w", err)
	}

	var demand []float64
	if err := json.Unmarshal([]byte(hash["demand"]), &demand); err != nil {
		return nil, fmt.Errorf("failed to unmarshal demand: %w", err)
	}

	bid, err := market.NewBid(basis, demand)
	if err != nil {
		return nil, fmt.Errorf("stored bid is invalid: %w", err)
	}

	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &BidSnapshot{
		NodeID:      hash["node_id"],
		Bid:         bid,
		UpdatedAtMs: updatedAtMs,
	}, nil
}
