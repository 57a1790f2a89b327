package matcher

import (
	"math"
	"sync"
	"testing"

	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settle submits three bids whose sum crosses zero at step 3 and clears the
// market, returning the equilibrium price.
func settle(t *testing.T, c *cluster) *market.Price {
	t.Helper()

	require.NoError(t, c.concentrator.SubmitChildBid("a1", mustBid(t, 300, 250, 200, 150, 100, 50, 0, -50, -100, -150, -200)))
	require.NoError(t, c.concentrator.SubmitChildBid("a2", mustBid(t, 200, 150, 100, 50, 0, -50, -100, -150, -200, -250, -300)))
	require.NoError(t, c.concentrator.SubmitChildBid("a3", mustFlat(t, -200)))

	price, err := c.auctioneer.Clear()
	require.NoError(t, err)
	return price
}

func TestBidsPropagateToTheRoot(t *testing.T) {
	c := newCluster(t, "a1", "a2", "a3")
	settle(t, c)

	want := []float64{300, 200, 100, 0, -100, -200, -300, -400, -500, -600, -700}
	assert.Equal(t, want, c.concentrator.LastAggregatedBid().Demand())
	assert.Equal(t, want, c.auctioneer.LastAggregatedBid().Demand())
	assert.Equal(t, want, c.auctioneer.LastChildBid("concentrator").Demand())
}

func TestEquilibriumReachesEveryAgent(t *testing.T) {
	c := newCluster(t, "a1", "a2", "a3")
	p0 := settle(t, c)

	assert.Equal(t, 15.0, p0.CurrentPrice)
	assert.Equal(t, 15.0, c.concentrator.LastReceivedPrice().CurrentPrice)
	assert.Equal(t, 15.0, c.concentrator.LastPublishedPrice().CurrentPrice)
	for _, agent := range c.agents {
		require.NotNil(t, agent.lastPriceUpdate(), agent.id)
		assert.Equal(t, 15.0, agent.lastPriceUpdate().CurrentPrice, agent.id)
	}
}

func TestNullPriceIsRejectedEverywhere(t *testing.T) {
	c := newCluster(t, "a1", "a2", "a3")
	p0 := settle(t, c)

	auctioneerEvents := &recordingObserver{}
	c.auctioneer.AddObserver(auctioneerEvents)
	concentratorEvents := &recordingObserver{}
	c.concentrator.AddObserver(concentratorEvents)

	t.Run("auctioneer", func(t *testing.T) {
		err := c.auctioneer.PublishPrice(nil)
		require.Error(t, err)
		assert.True(t, market.IsInvalidArgument(err))

		assert.Equal(t, p0.CurrentPrice, c.auctioneer.LastPublishedPrice().CurrentPrice)
		assert.Equal(t, p0.CurrentPrice, c.concentrator.LastPrice().CurrentPrice, "nothing reaches the concentrator")
		assert.Equal(t, []EventType{EventPriceRejected}, auctioneerEvents.types())
		assert.Empty(t, concentratorEvents.types())
	})

	t.Run("concentrator", func(t *testing.T) {
		err := c.concentrator.ReceivePrice(nil)
		require.Error(t, err)
		assert.True(t, market.IsInvalidArgument(err))

		assert.Equal(t, p0.CurrentPrice, c.concentrator.LastPublishedPrice().CurrentPrice)
		assert.Equal(t, p0.CurrentPrice, c.concentrator.LastReceivedPrice().CurrentPrice)
		assert.Equal(t, []EventType{EventPriceRejected}, concentratorEvents.types())
	})

	t.Run("malformed prices", func(t *testing.T) {
		assert.Error(t, c.concentrator.ReceivePrice(&market.Price{CurrentPrice: 10}))

		assert.True(t, market.IsInvalidArgument(c.auctioneer.PublishPrice(market.NewPrice(testBasis(), math.NaN()))))
		assert.True(t, market.IsInvalidArgument(c.auctioneer.PublishPrice(market.NewPrice(testBasis(), math.Inf(1)))))

		assert.Equal(t, p0.CurrentPrice, c.concentrator.LastPrice().CurrentPrice)
	})

	for _, agent := range c.agents {
		assert.Equal(t, 1, agent.updateCount(), "agents only ever saw the equilibrium: %s", agent.id)
		assert.Equal(t, p0.CurrentPrice, agent.lastPriceUpdate().CurrentPrice)
	}
}

func TestOutOfRangePriceIsPassedThrough(t *testing.T) {
	c := newCluster(t, "a1", "a2", "a3")
	settle(t, c)

	override := market.NewPrice(testBasis(), 52.0)
	require.False(t, override.InRange())

	require.NoError(t, c.auctioneer.PublishPrice(override))

	assert.Equal(t, 52.0, c.auctioneer.LastPublishedPrice().CurrentPrice)
	assert.Equal(t, 52.0, c.concentrator.LastReceivedPrice().CurrentPrice)
	assert.Equal(t, 52.0, c.concentrator.LastPublishedPrice().CurrentPrice)
	for _, agent := range c.agents {
		assert.Equal(t, 52.0, agent.lastPriceUpdate().CurrentPrice, agent.id)
	}
}

func TestPriceFromAnotherBasisIsPassedThrough(t *testing.T) {
	c := newCluster(t, "a1")

	other := testBasis()
	other.MaxPrice = 200
	require.NoError(t, c.concentrator.ReceivePrice(market.NewPrice(other, 150)))

	got := c.agents[0].lastPriceUpdate()
	require.NotNil(t, got)
	assert.Equal(t, 150.0, got.CurrentPrice)
	assert.Equal(t, other, got.MarketBasis, "price is relayed unchanged")
}

func TestRelayFailureDoesNotStopOtherChildren(t *testing.T) {
	c := newCluster(t, "a1", "a2", "a3")
	c.agents[0].failing = true

	require.NoError(t, c.concentrator.ReceivePrice(market.NewPrice(testBasis(), 20)))

	for _, agent := range c.agents {
		assert.Equal(t, 20.0, agent.lastPriceUpdate().CurrentPrice, agent.id)
	}
	assert.Equal(t, 20.0, c.concentrator.LastPublishedPrice().CurrentPrice)
}

func TestRelayedPricesAreCopies(t *testing.T) {
	c := newCluster(t, "a1", "a2")
	require.NoError(t, c.auctioneer.PublishPrice(market.NewPrice(testBasis(), 30)))

	c.agents[0].lastPriceUpdate().CurrentPrice = 999

	assert.Equal(t, 30.0, c.agents[1].lastPriceUpdate().CurrentPrice)
	assert.Equal(t, 30.0, c.concentrator.LastPrice().CurrentPrice)
	assert.Equal(t, 30.0, c.auctioneer.LastPrice().CurrentPrice)
}

// rebiddingAgent submits a new bid from inside its price handler, like an
// agent that reacts to every price immediately.
type rebiddingAgent struct {
	id     string
	parent *Concentrator
	bid    *market.Bid

	mu     sync.Mutex
	prices int
}

func (r *rebiddingAgent) HandlePriceUpdate(*market.Price) error {
	r.mu.Lock()
	r.prices++
	r.mu.Unlock()
	return r.parent.SubmitChildBid(r.id, r.bid)
}

func TestChildMayBidWhileHandlingPrice(t *testing.T) {
	c := newCluster(t)
	agent := &rebiddingAgent{id: "reactive", parent: c.concentrator, bid: mustFlat(t, -10)}
	require.NoError(t, c.concentrator.Connect(agent.id, agent))

	require.NoError(t, c.auctioneer.PublishPrice(market.NewPrice(testBasis(), 25)))

	assert.Equal(t, 1, agent.prices)
	assert.Equal(t, -10.0, c.auctioneer.LastAggregatedBid().DemandAt(0))

	price, err := c.auctioneer.Clear()
	require.NoError(t, err)
	assert.Equal(t, 0.0, price.CurrentPrice)
	assert.Equal(t, 2, agent.prices)
}
