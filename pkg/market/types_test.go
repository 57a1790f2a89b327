package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBasis() MarketBasis {
	return MarketBasis{
		Commodity:    "electricity",
		Currency:     "EUR",
		MinPrice:     0,
		MaxPrice:     50,
		PriceSteps:   11,
		Significance: 2,
	}
}

func TestMarketBasisValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(mb *MarketBasis)
		wantErr string
	}{
		{name: "valid basis", mutate: func(mb *MarketBasis) {}},
		{name: "single step is valid", mutate: func(mb *MarketBasis) { mb.PriceSteps = 1 }},
		{name: "min equals max", mutate: func(mb *MarketBasis) { mb.MinPrice = 50 }, wantErr: "must be below max_price"},
		{name: "min above max", mutate: func(mb *MarketBasis) { mb.MinPrice = 60 }, wantErr: "must be below max_price"},
		{name: "zero steps", mutate: func(mb *MarketBasis) { mb.PriceSteps = 0 }, wantErr: "price_steps must be >= 1"},
		{name: "negative significance", mutate: func(mb *MarketBasis) { mb.Significance = -1 }, wantErr: "significance must be >= 0"},
		{name: "NaN price", mutate: func(mb *MarketBasis) { mb.MaxPrice = math.NaN() }, wantErr: "must be finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := testBasis()
			tt.mutate(&mb)

			err := mb.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsInvalidArgument(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMarketBasisEquality(t *testing.T) {
	a := testBasis()
	b := testBasis()
	assert.True(t, a == b, "bases with equal fields must be equal by value")

	b.PriceSteps = 12
	assert.False(t, a == b)
}

func TestMarketBasisPriceAxis(t *testing.T) {
	mb := testBasis()

	assert.Equal(t, 5.0, mb.PriceIncrement())
	assert.Equal(t, 0.0, mb.PriceOf(0))
	assert.Equal(t, 25.0, mb.PriceOf(5))
	assert.Equal(t, 50.0, mb.PriceOf(10))
	assert.Equal(t, 50.0, mb.PriceOf(99), "steps above the axis clamp to the last step")
	assert.Equal(t, 0.0, mb.PriceOf(-3), "negative steps clamp to the first step")

	assert.Equal(t, 0, mb.StepOf(-10))
	assert.Equal(t, 2, mb.StepOf(11))
	assert.Equal(t, 10, mb.StepOf(52))
}

func TestMarketBasisSingleStep(t *testing.T) {
	mb := testBasis()
	mb.PriceSteps = 1

	assert.Equal(t, 0.0, mb.PriceIncrement())
	assert.Equal(t, mb.MinPrice, mb.PriceOf(0))
	assert.Equal(t, 0, mb.StepOf(42))
}

func TestMarketBasisRoundsToSignificance(t *testing.T) {
	mb := MarketBasis{MinPrice: 0, MaxPrice: 1, PriceSteps: 4, Significance: 2}

	assert.Equal(t, 0.33, mb.PriceOf(1))
	assert.Equal(t, 0.67, mb.PriceOf(2))
}

func TestValidatePrice(t *testing.T) {
	mb := testBasis()

	t.Run("null price is rejected", func(t *testing.T) {
		err := ValidatePrice(nil)
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))
		assert.Contains(t, err.Error(), "price is null")
	})

	t.Run("price above range is valid", func(t *testing.T) {
		p := NewPrice(mb, 52.0)
		assert.NoError(t, ValidatePrice(p))
		assert.False(t, p.InRange())
	})

	t.Run("price below range is valid", func(t *testing.T) {
		assert.NoError(t, ValidatePrice(NewPrice(mb, -12.5)))
	})

	t.Run("missing market basis is rejected", func(t *testing.T) {
		err := ValidatePrice(&Price{CurrentPrice: 10})
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))
	})

	t.Run("NaN price is rejected", func(t *testing.T) {
		err := ValidatePrice(NewPrice(mb, math.NaN()))
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))
	})
}

func TestPriceClone(t *testing.T) {
	var nilPrice *Price
	assert.Nil(t, nilPrice.Clone())

	p := NewPrice(testBasis(), 20)
	c := p.Clone()
	c.CurrentPrice = 30
	assert.Equal(t, 20.0, p.CurrentPrice, "clone must not alias the original")
}
