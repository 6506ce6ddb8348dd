package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"parlay-pool/internal/model"
)

const oddsPlaces = 4

// ComputeOdds returns the displayed payout multipliers of one match.
// Each side is padded with a third of virtualLiquidity; the padding only
// affects display and never enters payout math. A side whose padded pool is
// empty reports zero odds.
func ComputeOdds(pool model.MatchPool, virtualLiquidity int64) (home, away, draw decimal.Decimal, err error) {
	if virtualLiquidity < 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("negative virtual liquidity")
	}
	third := decimal.NewFromInt(virtualLiquidity).Div(decimal.NewFromInt(3))
	total := decimal.NewFromInt(pool.Total()).Add(decimal.NewFromInt(virtualLiquidity))
	if total.IsZero() {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("empty match pool")
	}
	side := func(real int64) decimal.Decimal {
		v := decimal.NewFromInt(real).Add(third)
		if v.IsZero() {
			return decimal.Zero
		}
		return total.Div(v).Truncate(oddsPlaces)
	}
	return side(pool.Home), side(pool.Away), side(pool.Draw), nil
}

// virtualLiquidity is seedPerMatch * K.
func virtualLiquidity(p Params, pool model.MatchPool) int64 {
	return pool.Seed * p.VirtualLiquidityK
}

func currentOdds(p Params, r *model.Round, matchIndex int) (model.Odds, error) {
	if !r.Seeded() {
		return model.Odds{}, ErrNotOpen
	}
	if matchIndex < 0 || matchIndex >= len(r.Pools) {
		return model.Odds{}, ErrInvalidMatch
	}
	pool := r.Pools[matchIndex]
	h, a, d, err := ComputeOdds(pool, virtualLiquidity(p, pool))
	if err != nil {
		return model.Odds{}, err
	}
	return model.Odds{MatchIndex: matchIndex, Home: h, Away: a, Draw: d}, nil
}
