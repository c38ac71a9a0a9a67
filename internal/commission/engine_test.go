package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d = decimal.RequireFromString

func TestTierBoundaryIsLowerInclusive(t *testing.T) {
	e := Default()
	cases := []struct {
		sales string
		level int
		rate  string
	}{
		{"0", 1, "0.20"},
		{"999.99", 1, "0.20"},
		{"1000.00", 2, "0.25"},
		{"2999.99", 2, "0.25"},
		{"3000", 3, "0.30"},
		{"5000", 4, "0.35"},
		{"1000000", 4, "0.35"},
	}
	for _, c := range cases {
		tier := e.TierFor(d(c.sales))
		assert.Equal(t, c.level, tier.Level, c.sales)
		assert.True(t, tier.Rate.Equal(d(c.rate)), c.sales)
	}
}

func TestComputeUsesPriorSalesForRate(t *testing.T) {
	r := Default().Compute(d("1000.00"), d("29.99"))
	assert.True(t, r.Rate.Equal(d("0.25")))
	assert.True(t, r.Commission.Equal(d("7.50")), r.Commission.String())
	assert.True(t, r.NewCumulativeSales.Equal(d("1029.99")))
	assert.Equal(t, 2, r.PriorTier)
	assert.Equal(t, 2, r.NewTier)

	r = Default().Compute(d("990"), d("29.99"))
	assert.True(t, r.Rate.Equal(d("0.20")))
	assert.Equal(t, 1, r.PriorTier)
	assert.Equal(t, 2, r.NewTier)
}

func TestBonusFiresOnceWhenCrossingThreshold(t *testing.T) {
	e := Default()

	first := e.Compute(d("7990"), d("29.99"))
	assert.True(t, first.Bonus.Equal(d("500")))
	assert.True(t, first.Total.Equal(first.Commission.Add(d("500"))))

	second := e.Compute(first.NewCumulativeSales, d("29.99"))
	assert.True(t, second.Bonus.IsZero())

	exact := e.Compute(d("7970.01"), d("29.99"))
	assert.True(t, exact.NewCumulativeSales.Equal(d("8000")))
	assert.True(t, exact.Bonus.Equal(d("500")))

	below := e.Compute(d("7000"), d("29.99"))
	assert.True(t, below.Bonus.IsZero())
}

func TestFreeOrderEarnsNothing(t *testing.T) {
	r := Default().Compute(d("100"), decimal.Zero)
	assert.True(t, r.Total.IsZero())
	assert.True(t, r.NewCumulativeSales.Equal(d("100")))
}

func TestNewEngineRejectsBrokenBands(t *testing.T) {
	_, err := NewEngine([]Tier{
		{Level: 1, Min: d("0"), Max: d("1000"), Rate: d("0.2")},
		{Level: 2, Min: d("1500"), Rate: d("0.3")},
	}, d("8000"), d("500"))
	require.Error(t, err)

	_, err = NewEngine([]Tier{{Level: 1, Min: d("10"), Rate: d("0.2")}}, d("0"), d("0"))
	require.Error(t, err)

	_, err = NewEngine([]Tier{{Level: 1, Min: d("0"), Max: d("10"), Rate: d("0.2")}}, d("0"), d("0"))
	require.Error(t, err)
}

func TestNewEngineSortsBands(t *testing.T) {
	e, err := NewEngine([]Tier{
		{Level: 2, Min: d("1000"), Rate: d("0.3")},
		{Level: 1, Min: d("0"), Max: d("1000"), Rate: d("0.1")},
	}, d("0"), d("0"))
	require.NoError(t, err)
	assert.Equal(t, 2, e.TierFor(d("1000")).Level)
}
