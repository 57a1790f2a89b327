package matcher

import (
	"sync"
	"testing"

	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testBasis() market.MarketBasis {
	return market.MarketBasis{
		Commodity:    "electricity",
		Currency:     "EUR",
		MinPrice:     0,
		MaxPrice:     50,
		PriceSteps:   11,
		Significance: 2,
	}
}

func mustBid(t *testing.T, demand ...float64) *market.Bid {
	t.Helper()
	bid, err := market.NewBid(testBasis(), demand)
	require.NoError(t, err)
	return bid
}

func mustFlat(t *testing.T, demand float64) *market.Bid {
	t.Helper()
	bid, err := market.FlatDemand(testBasis(), demand)
	require.NoError(t, err)
	return bid
}

// mockAgent stands in for an agent: it records every price it is handed.
type mockAgent struct {
	id string

	mu      sync.Mutex
	prices  []*market.Price
	failing bool
}

func (m *mockAgent) HandlePriceUpdate(price *market.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, price)
	if m.failing {
		return market.ErrInvalidArgument
	}
	return nil
}

func (m *mockAgent) lastPriceUpdate() *market.Price {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prices) == 0 {
		return nil
	}
	return m.prices[len(m.prices)-1]
}

func (m *mockAgent) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prices)
}

// recordingSink captures bids forwarded to a parent.
type recordingSink struct {
	mu   sync.Mutex
	bids []*market.Bid
	from []string
	err  error
}

func (s *recordingSink) SubmitChildBid(childID string, bid *market.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.from = append(s.from, childID)
	s.bids = append(s.bids, bid)
	return s.err
}

func (s *recordingSink) last() *market.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bids) == 0 {
		return nil
	}
	return s.bids[len(s.bids)-1]
}

// recordingObserver collects events.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Update(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) types() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, len(o.events))
	for i, e := range o.events {
		out[i] = e.Type
	}
	return out
}

// cluster is a three-level fixture: agents -> concentrator -> auctioneer.
type cluster struct {
	auctioneer   *Auctioneer
	concentrator *Concentrator
	agents       []*mockAgent
}

func newCluster(t *testing.T, agentIDs ...string) *cluster {
	t.Helper()
	logger := zaptest.NewLogger(t)

	auctioneer, err := NewAuctioneer("auctioneer", testBasis(), logger)
	require.NoError(t, err)

	concentrator, err := NewConcentrator("concentrator", testBasis(), auctioneer.ID(), auctioneer, logger)
	require.NoError(t, err)
	require.NoError(t, auctioneer.Connect(concentrator.ID(), concentrator))

	c := &cluster{auctioneer: auctioneer, concentrator: concentrator}
	for _, id := range agentIDs {
		agent := &mockAgent{id: id}
		require.NoError(t, concentrator.Connect(id, agent))
		c.agents = append(c.agents, agent)
	}
	return c
}
