package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// resolveAll records one outcome per match and settles the round.
func (e *Engine) resolveAll(t *txn, r *model.Round, results []model.Outcome, source string) error {
	if len(results) != len(r.Matches) {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidResults, len(results), len(r.Matches))
	}
	for i, o := range results {
		if err := recordOutcome(r, i, o, t.now); err != nil {
			return fmt.Errorf("match %d: %w", i, err)
		}
		t.emit(model.EvMatchResolved, r.ID, map[string]any{"match_index": i, "outcome": o, "source": source})
	}
	if isFullySettled(r) {
		return e.settleRound(t, r)
	}
	return nil
}

// settleRound freezes every bet's payout and releases reservations that will
// never be paid.
func (e *Engine) settleRound(t *txn, r *model.Round) error {
	now := t.now
	r.Status = model.RoundSettled
	r.SettledAt = &now
	r.TotalLosingPool = losingPool(r)

	var won, lost, refunded int
	var released, capReleased int64
	for _, id := range e.roundBets[r.ID] {
		b, err := t.bet(id)
		if err != nil {
			return err
		}
		rel := settleBet(e.p, r, b)
		switch {
		case rel <= 0:
		case b.BonusSource == model.SourceCapital && e.capital != nil:
			capReleased += rel
		default:
			t.res().ReleaseBonus(rel)
			released += rel
		}
		switch b.Status {
		case model.BetWon:
			won++
		case model.BetLost:
			lost++
		case model.BetRefunded:
			refunded++
		}
	}
	t.emit(model.EvRoundSettled, r.ID, map[string]any{
		"total_losing_pool": r.TotalLosingPool,
		"won":               won,
		"lost":              lost,
		"refunded":          refunded,
		"bonus_released":    released,
		"capital_released":  capReleased,
	})
	if capReleased > 0 {
		t.after = append(t.after, func() { e.capital.ReleaseBonus(capReleased) })
	}
	return nil
}

func (e *Engine) claimDeadline(r *model.Round) time.Time {
	return r.SettledAt.Add(e.p.ClaimWindow + e.p.GracePeriod)
}

// payable loads a bet and its round and checks the bet still owes a payout.
func (e *Engine) payable(t *txn, betID string) (*model.Bet, *model.Round, error) {
	b, err := t.bet(betID)
	if err != nil {
		return nil, nil, err
	}
	r, err := t.round(b.RoundID)
	if err != nil {
		return nil, nil, err
	}
	if !r.Settled() || !b.Settled {
		return nil, nil, ErrNotSettled
	}
	if b.Claimed {
		return nil, nil, ErrAlreadyClaimed
	}
	if b.Status == model.BetLost {
		return nil, nil, ErrBetLost
	}
	if err := enforceRoundCap(e.p, r, b.FinalPayout); err != nil {
		return nil, nil, err
	}
	return b, r, nil
}

// discharge moves a bet's bonus out of its backing source into custody so
// the full payout can leave in one transfer.
func (e *Engine) discharge(t *txn, b *model.Bet) {
	bonus := b.BonusOwed()
	if bonus == 0 {
		return
	}
	if b.BonusSource == model.SourceCapital && e.capital != nil {
		t.transferIn(model.CapitalAccount, bonus)
		bettor := b.Bettor
		t.after = append(t.after, func() {
			if err := e.capital.PayWinner(bettor, bonus); err != nil {
				e.log.Error("capital books out of step with wallet", zap.String("bettor", bettor), zap.Error(err))
			}
		})
		return
	}
	t.res().ConsumeBonus(bonus)
}

// Claim pays a settled bet to its bettor. It is open until the claim window
// and grace period have both elapsed; after that only Sweep applies.
func (e *Engine) Claim(ctx context.Context, caller, betID string) (*model.Bet, error) {
	var out *model.Bet
	err := e.do(ctx, "claim", func(t *txn) error {
		b, r, err := e.payable(t, betID)
		if err != nil {
			return err
		}
		if caller != b.Bettor {
			return ErrNotBettor
		}
		if t.now.After(e.claimDeadline(r)) {
			return ErrClaimWindowExpired
		}
		e.discharge(t, b)
		t.transferOut(b.Bettor, b.FinalPayout)

		now := t.now
		r.TotalPaidOut += b.FinalPayout
		b.Claimed = true
		b.Status = model.BetClaimed
		b.PaidOut = b.FinalPayout
		b.ClaimedAt = &now
		t.emit(model.EvWinningsClaimed, r.ID, map[string]any{
			"bet_id": b.ID, "bettor": b.Bettor, "final_payout": b.FinalPayout,
			"locked_multiplier": b.LockedMultiplier,
		})
		out = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("winnings claimed", zap.String("bet", betID), zap.Int64("payout", out.PaidOut))
	return out, nil
}

// SweepResult splits a swept payout.
type SweepResult struct {
	Bet       *model.Bet `json:"bet"`
	Bounty    int64      `json:"bounty"`
	LateFee   int64      `json:"late_fee"`
	Remainder int64      `json:"remainder"`
	Policy    string     `json:"policy"`
}

// Sweep settles an expired, unclaimed payout on anyone's behalf. The caller
// earns the bounty, the reserve keeps the late fee, and the remainder goes
// to the bettor or the reserve depending on the sweep policy.
func (e *Engine) Sweep(ctx context.Context, caller, betID string) (*SweepResult, error) {
	var out *SweepResult
	err := e.do(ctx, "sweep", func(t *txn) error {
		b, r, err := e.payable(t, betID)
		if err != nil {
			return err
		}
		if !t.now.After(e.claimDeadline(r)) {
			return ErrSweepTooEarly
		}
		payout := b.FinalPayout
		bounty := payout * e.p.SweepBountyBps / 10000
		fee := payout * e.p.LateFeeBps / 10000
		rest := payout - bounty - fee

		e.discharge(t, b)
		t.transferOut(caller, bounty)
		t.res().Credit(fee)
		switch e.p.SweepPolicy {
		case SweepToProtocol:
			t.res().Credit(rest)
		default:
			t.transferOut(b.Bettor, rest)
			b.PaidOut = rest
		}

		now := t.now
		r.TotalPaidOut += payout
		b.Claimed = true
		b.Status = model.BetSwept
		b.SweptBy = caller
		b.ClaimedAt = &now
		t.emit(model.EvBetSwept, r.ID, map[string]any{
			"bet_id": b.ID, "bettor": b.Bettor, "swept_by": caller,
			"payout": payout, "bounty": bounty, "late_fee": fee, "remainder": rest,
			"policy": e.p.SweepPolicy,
		})
		out = &SweepResult{Bet: b.Clone(), Bounty: bounty, LateFee: fee, Remainder: rest, Policy: string(e.p.SweepPolicy)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("bet swept",
		zap.String("bet", betID),
		zap.String("caller", caller),
		zap.Int64("bounty", out.Bounty),
		zap.Int64("late_fee", out.LateFee))
	return out, nil
}

// RevenueSplit is the outcome of FinalizeRoundRevenue.
type RevenueSplit struct {
	NetRevenue       int64 `json:"net_revenue"`
	ReservedWinners  int64 `json:"total_reserved_for_winners"`
	ProtocolShare    int64 `json:"protocol_share"`
	CapitalShare     int64 `json:"capital_share"`
	SeasonShare      int64 `json:"season_share"`
	Absorbed         int64 `json:"absorbed"`
	RecoveredCapital int64 `json:"recovered_principal"`
}

// FinalizeRoundRevenue distributes a settled round's net revenue exactly
// once. A shortfall is always absorbed by the protocol reserve; the capital
// source is only ever credited here.
func (e *Engine) FinalizeRoundRevenue(ctx context.Context, roundID int64) (*RevenueSplit, error) {
	var out *RevenueSplit
	err := e.do(ctx, "finalize_revenue", func(t *txn) error {
		r, err := t.round(roundID)
		if err != nil {
			return err
		}
		if r.RevenueDistributed() {
			return ErrAlreadyDistributed
		}
		if !r.Settled() {
			return ErrNotSettled
		}

		var principal, profit int64
		for _, id := range e.roundBets[roundID] {
			b := e.bets[id]
			p, w := poolShares(b)
			principal += p
			profit += w
		}
		var total int64
		for _, p := range r.Pools {
			total += p.Total()
		}

		split := &RevenueSplit{ReservedWinners: profit, NetRevenue: r.TotalLosingPool - profit}
		res := t.res()
		if split.NetRevenue >= 0 {
			split.CapitalShare = split.NetRevenue * e.p.CapitalShareBps / 10000
			split.SeasonShare = split.NetRevenue * e.p.SeasonShareBps / 10000
			split.ProtocolShare = split.NetRevenue - split.CapitalShare - split.SeasonShare
			res.Credit(split.ProtocolShare)
			res.CreditSeason(split.SeasonShare)
			e.payCapital(t, split.CapitalShare)
		} else {
			split.Absorbed = -split.NetRevenue
			if err := res.Absorb(split.Absorbed); err != nil {
				return err
			}
		}

		// Winning-side and void pools that no winning bet is owed go back to
		// whoever funded the seed.
		split.RecoveredCapital = total - r.TotalLosingPool - principal
		if r.SeedSource == model.SourceCapital && e.capital != nil {
			e.payCapital(t, split.RecoveredCapital)
		} else {
			res.Credit(split.RecoveredCapital)
		}

		now := t.now
		r.TotalReservedForWinners = profit
		r.NetRevenue = split.NetRevenue
		r.Status = model.RoundDistributed
		r.DistributedAt = &now
		t.emit(model.EvRevenueFinalized, roundID, split)
		out = split
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("round revenue finalized",
		zap.Int64("round", roundID),
		zap.Int64("net_revenue", out.NetRevenue),
		zap.Int64("recovered", out.RecoveredCapital))
	return out, nil
}

// payCapital routes amount to the capital source, or keeps it in the
// reserve when none is configured.
func (e *Engine) payCapital(t *txn, amount int64) {
	if amount <= 0 {
		return
	}
	if e.capital == nil {
		t.res().Credit(amount)
		return
	}
	t.transferOut(model.CapitalAccount, amount)
	t.after = append(t.after, func() { e.capital.CollectLosingBet(amount) })
}
