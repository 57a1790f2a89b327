package matcher

import (
	"testing"

	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestComputeEquilibrium(t *testing.T) {
	tests := []struct {
		name   string
		demand []float64
		want   float64
	}{
		{
			name:   "sign change picks first non-positive step",
			demand: []float64{300, 200, 100, -100, -200, -300, -400, -500, -600, -700, -800},
			want:   15,
		},
		{
			name:   "zero run picks lowest price of the run",
			demand: []float64{300, 200, 0, 0, 0, -100, -200, -300, -400, -500, -600},
			want:   10,
		},
		{
			name:   "demand never reaches zero clamps to max price",
			demand: []float64{900, 800, 700, 600, 500, 400, 300, 200, 100, 50, 1},
			want:   50,
		},
		{
			name:   "demand non-positive from the start clamps to min price",
			demand: []float64{-1, -2, -3, -4, -5, -6, -7, -8, -9, -10, -11},
			want:   0,
		},
		{
			name:   "all zero clears at min price",
			demand: []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			want:   0,
		},
		{
			name:   "last step crossing",
			demand: []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, -10},
			want:   50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := ComputeEquilibrium(mustBid(t, tt.demand...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, price.CurrentPrice)
			assert.Equal(t, testBasis(), price.MarketBasis)
		})
	}
}

func TestComputeEquilibriumIsIdempotent(t *testing.T) {
	bid := mustBid(t, 120, 90, 60, 30, 0, -30, -60, -90, -120, -150, -180)

	first, err := ComputeEquilibrium(bid)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ComputeEquilibrium(bid)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeEquilibriumNullBid(t *testing.T) {
	_, err := ComputeEquilibrium(nil)
	require.Error(t, err)
	assert.True(t, market.IsInvalidArgument(err))
}

func TestComputeEquilibriumSingleStep(t *testing.T) {
	basis := market.MarketBasis{Currency: "EUR", MinPrice: 5, MaxPrice: 10, PriceSteps: 1}
	bid, err := market.FlatDemand(basis, 100)
	require.NoError(t, err)

	price, err := ComputeEquilibrium(bid)
	require.NoError(t, err)
	assert.Equal(t, 5.0, price.CurrentPrice)
}

func TestAuctioneerClear(t *testing.T) {
	auctioneer, err := NewAuctioneer("auctioneer", testBasis(), zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("nothing to clear", func(t *testing.T) {
		_, err := auctioneer.Clear()
		assert.ErrorIs(t, err, ErrNoBid)
		assert.Nil(t, auctioneer.LastPublishedPrice())
	})

	agent := &mockAgent{id: "a1"}
	require.NoError(t, auctioneer.Connect("a1", agent))
	require.NoError(t, auctioneer.SubmitChildBid("a1", mustBid(t, 50, 40, 30, 20, 10, 0, -10, -20, -30, -40, -50)))

	observer := &recordingObserver{}
	auctioneer.AddObserver(observer)

	price, err := auctioneer.Clear()
	require.NoError(t, err)
	assert.Equal(t, 25.0, price.CurrentPrice)
	assert.Equal(t, 25.0, auctioneer.LastPublishedPrice().CurrentPrice)
	assert.Equal(t, 25.0, agent.lastPriceUpdate().CurrentPrice)
	assert.Equal(t, []EventType{EventPricePublished, EventCleared}, observer.types())
	assert.True(t, auctioneer.State().Has(StateHasBid|StateHasPrice))
}

func TestAuctioneerClearWithConnectedChildrenOnly(t *testing.T) {
	auctioneer, err := NewAuctioneer("auctioneer", testBasis(), nil)
	require.NoError(t, err)
	require.NoError(t, auctioneer.Connect("a1", &mockAgent{id: "a1"}))

	_, err = auctioneer.Clear()
	assert.ErrorIs(t, err, ErrNoBid, "connecting alone does not produce a bid")
}

func TestAuctioneerDisconnect(t *testing.T) {
	auctioneer, err := NewAuctioneer("auctioneer", testBasis(), nil)
	require.NoError(t, err)

	require.NoError(t, auctioneer.SubmitChildBid("a1", mustFlat(t, 100)))
	require.NoError(t, auctioneer.SubmitChildBid("a2", mustFlat(t, -40)))
	auctioneer.Disconnect("a1")

	assert.Equal(t, -40.0, auctioneer.LastAggregatedBid().DemandAt(0))

	price, err := auctioneer.Clear()
	require.NoError(t, err)
	assert.Equal(t, 0.0, price.CurrentPrice)
}

func TestAuctioneerReceivePriceIsOverride(t *testing.T) {
	auctioneer, err := NewAuctioneer("auctioneer", testBasis(), nil)
	require.NoError(t, err)
	agent := &mockAgent{id: "a1"}
	require.NoError(t, auctioneer.Connect("a1", agent))

	require.NoError(t, auctioneer.ReceivePrice(market.NewPrice(testBasis(), 33)))
	assert.Equal(t, 33.0, auctioneer.LastPrice().CurrentPrice)
	assert.Equal(t, 33.0, agent.lastPriceUpdate().CurrentPrice)

	err = auctioneer.ReceivePrice(nil)
	assert.True(t, market.IsInvalidArgument(err))
	assert.Equal(t, 33.0, auctioneer.LastPrice().CurrentPrice)
}
