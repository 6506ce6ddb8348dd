package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// PlaceBet accepts a wager, freezing its multiplier and bonus reservation.
// Nothing in the round, the reserve or the ledger changes unless every check
// passes.
func (e *Engine) PlaceBet(ctx context.Context, bettor string, roundID int64, preds []model.Prediction, stake int64) (*model.Bet, error) {
	var out *model.Bet
	err := e.do(ctx, "place_bet", func(t *txn) error {
		b, err := e.placeBet(t, bettor, roundID, preds, stake)
		if err != nil {
			return err
		}
		out = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("bet placed",
		zap.String("bet", out.ID),
		zap.Int64("round", roundID),
		zap.String("bettor", bettor),
		zap.Int64("stake", stake),
		zap.Int("legs", out.Legs()),
		zap.Stringer("multiplier", out.LockedMultiplier),
		zap.Int64("reserved_bonus", out.ReservedBonus))
	return out, nil
}

func (e *Engine) placeBet(t *txn, bettor string, roundID int64, preds []model.Prediction, stake int64) (*model.Bet, error) {
	r, err := t.round(roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.RoundOpen {
		return nil, ErrBettingClosed
	}
	if err := validatePredictions(e.p, r, preds); err != nil {
		return nil, err
	}
	if stake < e.p.MinStake {
		return nil, fmt.Errorf("%w: %d < %d", ErrStakeTooLow, stake, e.p.MinStake)
	}
	if err := EnforceCaps(e.p, stake, 0); err != nil {
		return nil, err
	}

	id := uuid.New()
	legs := len(preds)
	extra := remainderLeg(id, legs)
	b := &model.Bet{
		ID:          id.String(),
		Bettor:      bettor,
		RoundID:     roundID,
		Stake:       stake,
		Predictions: make([]model.Prediction, legs),
		Status:      model.BetPlaced,
		BonusSource: model.SourceReserve,
		PlacedAt:    t.now,
	}
	for i, amt := range splitEven(stake, legs, extra) {
		b.Predictions[i] = model.Prediction{MatchIndex: preds[i].MatchIndex, Pick: preds[i].Pick, LegStake: amt}
	}

	res := t.res()

	// Layer inputs are read before this bet touches the pools.
	in := MultiplierInput{
		Legs:            legs,
		ImbalanceBps:    averageImbalanceBps(r, b.Predictions),
		LockedLiability: res.State().LockedBonus,
	}
	if legs > 1 {
		in.ParlaySeq = r.ParlayCount + 1
	}
	b.LockedMultiplier = ComputeMultiplier(e.p, in)

	if e.p.StakeBonusBps > 0 {
		bonus := stake * e.p.StakeBonusBps / 10000
		if bonus > 0 && res.Spend(bonus) == nil {
			b.StakeBonus = bonus
			for i, amt := range splitEven(bonus, legs, extra) {
				b.Predictions[i].LegBonus = amt
			}
			r.StakeBonusTotal += bonus
		}
	}
	for _, pr := range b.Predictions {
		if err := addStake(r, pr.MatchIndex, pr.Pick, pr.LegStake+pr.LegBonus); err != nil {
			return nil, err
		}
	}

	est := evaluateLegs(e.p, r, b.Predictions, func(i int) model.Outcome {
		for _, pr := range b.Predictions {
			if pr.MatchIndex == i {
				return pr.Pick
			}
		}
		return model.OutcomeVoid
	})
	estimated := applyMultiplier(est.Base, b.LockedMultiplier)
	if err := EnforceCaps(e.p, stake, estimated); err != nil {
		return nil, err
	}

	reserved := estimated - est.Base
	if err := enforceRoundWorstCase(e.p, r, e.roundReserved(t, roundID)+reserved); err != nil {
		return nil, err
	}
	if reserved > 0 {
		if err := res.ReserveBonus(reserved); err != nil {
			if e.capital == nil || !e.capital.CanCoverPayout(reserved) {
				return nil, err
			}
			b.BonusSource = model.SourceCapital
			t.after = append(t.after, func() { e.capital.ReserveBonus(reserved) })
		}
		b.ReservedBonus = reserved
	}

	if legs > 1 {
		r.ParlayCount++
		b.ParlaySeq = r.ParlayCount
	}

	t.addBet(b)
	t.transferIn(bettor, stake)
	t.emit(model.EvBetPlaced, roundID, map[string]any{
		"bet_id":            b.ID,
		"bettor":            bettor,
		"stake":             stake,
		"stake_bonus":       b.StakeBonus,
		"legs":              legs,
		"predictions":       b.Predictions,
		"locked_multiplier": b.LockedMultiplier,
		"reserved_bonus":    b.ReservedBonus,
		"bonus_source":      b.BonusSource,
	})
	return b, nil
}

// roundReserved sums the bonus reserved by a round's bets so far.
func (e *Engine) roundReserved(t *txn, roundID int64) int64 {
	var total int64
	for _, id := range e.roundBets[roundID] {
		if b, ok := t.bets[id]; ok {
			total += b.ReservedBonus
			continue
		}
		total += e.bets[id].ReservedBonus
	}
	return total
}
