package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlay-pool/internal/model"
)

func TestComputeOddsWithoutVirtualLiquidity(t *testing.T) {
	pool := model.MatchPool{Home: 12000, Away: 8000, Draw: 10000}
	h, a, d, err := ComputeOdds(pool, 0)
	require.NoError(t, err)
	assert.Equal(t, "2.5", h.String())
	assert.Equal(t, "3.75", a.String())
	assert.Equal(t, "3", d.String())
}

func TestComputeOddsEmptyPool(t *testing.T) {
	_, _, _, err := ComputeOdds(model.MatchPool{}, 0)
	assert.Error(t, err)

	h, _, _, err := ComputeOdds(model.MatchPool{Away: 10}, 0)
	require.NoError(t, err)
	assert.True(t, h.IsZero())
}

func TestOddsConvergeToPoolRatios(t *testing.T) {
	pool := model.MatchPool{Home: 6000, Away: 1000, Draw: 2000}
	exact, _, _, err := ComputeOdds(pool, 0)
	require.NoError(t, err)

	var prevGap decimal.Decimal
	for i, vl := range []int64{900_000, 90_000, 9_000, 900, 9} {
		h, _, _, err := ComputeOdds(pool, vl)
		require.NoError(t, err)
		gap := exact.Sub(h).Abs()
		if i > 0 {
			assert.True(t, gap.LessThan(prevGap), "gap should shrink as virtual liquidity drops (vl=%d)", vl)
		}
		prevGap = gap
	}
	assert.True(t, prevGap.LessThan(decimal.RequireFromString("0.01")))
}

func TestVirtualLiquidityDampensPriceImpact(t *testing.T) {
	k := DefaultParams().VirtualLiquidityK
	for _, side := range []int64{100, 1000, 50_000} {
		for _, stake := range []int64{100, 10_000} {
			before := model.MatchPool{Home: side, Away: side, Draw: side, Seed: 3 * side}
			after := before
			after.Home += stake
			vl := before.Seed * k

			rawBefore, _, _, _ := ComputeOdds(before, 0)
			rawAfter, _, _, _ := ComputeOdds(after, 0)
			vBefore, _, _, _ := ComputeOdds(before, vl)
			vAfter, _, _, _ := ComputeOdds(after, vl)

			raw := rawBefore.Sub(rawAfter).Abs()
			damped := vBefore.Sub(vAfter).Abs()
			assert.True(t, damped.LessThan(raw), "side=%d stake=%d damped=%s raw=%s", side, stake, damped, raw)
		}
	}
}

func TestCurrentOddsRequiresSeed(t *testing.T) {
	r := newRound(1, []MatchSpec{{"A", "B"}}, testEpoch)
	_, err := currentOdds(DefaultParams(), r, 0)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, seedPools(r, []model.MatchSeed{model.EvenSeed(3000)}))
	o, err := currentOdds(DefaultParams(), r, 0)
	require.NoError(t, err)
	assert.Equal(t, "3", o.Home.String())

	_, err = currentOdds(DefaultParams(), r, 1)
	assert.ErrorIs(t, err, ErrInvalidMatch)
}
