package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"parlay-pool/internal/model"
)

// validatePredictions checks shape only; it never reads pools.
func validatePredictions(p Params, r *model.Round, preds []model.Prediction) error {
	if len(preds) == 0 {
		return ErrEmptyLegs
	}
	if len(preds) > p.MaxLegs {
		return fmt.Errorf("%w: %d > %d", ErrTooManyLegs, len(preds), p.MaxLegs)
	}
	seen := make(map[int]bool, len(preds))
	for _, pr := range preds {
		if pr.MatchIndex < 0 || pr.MatchIndex >= len(r.Matches) {
			return fmt.Errorf("%w: %d", ErrInvalidMatch, pr.MatchIndex)
		}
		if !pr.Pick.Pickable() {
			return fmt.Errorf("%w: %q", ErrInvalidPick, pr.Pick)
		}
		if seen[pr.MatchIndex] {
			return fmt.Errorf("%w: %d", ErrDuplicateMatch, pr.MatchIndex)
		}
		seen[pr.MatchIndex] = true
	}
	return nil
}

// legResult is the outcome of evaluating every leg of a bet.
type legResult struct {
	Won       bool
	AllVoid   bool
	Base      int64
	Principal int64 // leg stakes handed back inside Base
}

// evaluateLegs computes a bet's base payout against r's pools. outcome maps a
// match index to its result; at placement the engine passes each leg's own
// pick to obtain the best-case estimate.
func evaluateLegs(p Params, r *model.Round, preds []model.Prediction, outcome func(int) model.Outcome) legResult {
	share := decimal.New(p.WinnerShareBps, -4)
	base := decimal.Zero
	res := legResult{Won: true, AllVoid: true}
	for _, pr := range preds {
		o := outcome(pr.MatchIndex)
		stake := decimal.NewFromInt(pr.LegStake)
		switch {
		case o == model.OutcomeVoid:
			base = base.Add(stake)
			res.Principal += pr.LegStake
		case o == pr.Pick:
			res.AllVoid = false
			pool := r.Pools[pr.MatchIndex]
			winning := pool.Of(o)
			losing := pool.Total() - winning
			base = base.Add(stake)
			res.Principal += pr.LegStake
			if winning > 0 {
				base = base.Add(stake.Mul(share).Mul(decimal.NewFromInt(losing)).Div(decimal.NewFromInt(winning)))
			}
		default:
			return legResult{}
		}
	}
	if res.AllVoid {
		res.Won = false
	}
	res.Base = base.IntPart()
	return res
}

func applyMultiplier(amount int64, m model.Multiplier) int64 {
	return decimal.NewFromInt(amount).Mul(m.Decimal()).IntPart()
}

// settleBet freezes the payout of a placed bet once its round is settled.
// It returns the part of the reservation that is no longer needed.
func settleBet(p Params, r *model.Round, b *model.Bet) (release int64) {
	res := evaluateLegs(p, r, b.Predictions, func(i int) model.Outcome { return r.Matches[i].Outcome })
	b.Settled = true
	switch {
	case res.AllVoid:
		b.Status = model.BetRefunded
		b.BasePayout = b.Stake
		b.FinalPayout = b.Stake
		return b.ReservedBonus
	case !res.Won:
		b.Status = model.BetLost
		return b.ReservedBonus
	}
	b.Status = model.BetWon
	b.Won = true
	b.BasePayout = res.Base

	bonus := applyMultiplier(res.Base, b.LockedMultiplier) - res.Base
	if bonus > b.ReservedBonus {
		bonus = b.ReservedBonus
	}
	final := res.Base + bonus
	if final > p.MaxPayoutPerBet {
		final = p.MaxPayoutPerBet
	}
	b.FinalPayout = final
	return b.ReservedBonus - b.BonusOwed()
}

// poolShares splits what a settled bet draws from the round's pools into
// returned principal and profit taken from the losing pools.
func poolShares(b *model.Bet) (principal, profit int64) {
	paid := b.PoolPayout()
	if paid <= b.Stake {
		return paid, 0
	}
	return b.Stake, paid - b.Stake
}
