// Package market provides the shared data contract of a PowerMatcher cluster:
// the price axis (MarketBasis), demand curves (Bid) and prices (Price).
//
// # Overview
//
// Every agent, concentrator and auctioneer in one cluster shares a single
// MarketBasis. A Bid expresses an agent's demand as a non-increasing step
// function over the MarketBasis price steps. Concentrators sum the bids of
// their children; the auctioneer finds the step where aggregated demand
// crosses zero and publishes that Price back down the tree.
//
// # Price Validity
//
// A price reference is a *Price and nil is the null price. A non-nil price is
// valid when its MarketBasis is valid and CurrentPrice is finite. The current
// price does NOT have to lie inside [MinPrice, MaxPrice]: tiers of a hierarchy
// may scale prices differently, so out-of-range values pass through untouched.
//
// # Errors
//
// All validation failures wrap ErrInvalidArgument; lookups without a result
// wrap ErrNotFound. Use errors.Is or the IsInvalidArgument/IsNotFound helpers.
//
// # Usage Example
//
//	basis := market.MarketBasis{
//		Commodity:    "electricity",
//		Currency:     "EUR",
//		MinPrice:     0,
//		MaxPrice:     50,
//		PriceSteps:   11,
//		Significance: 2,
//	}
//
//	bid, err := market.NewBid(basis, []float64{900, 700, 500, 300, 100, -100, -300, -500, -700, -900, -1100})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	price := market.NewPrice(basis, 52.0) // valid, even though above MaxPrice
package market
