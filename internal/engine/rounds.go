package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// CreateRound opens a new, unseeded round with one match per MatchSpec.
func (e *Engine) CreateRound(ctx context.Context, specs []MatchSpec) (*model.Round, error) {
	var out *model.Round
	err := e.do(ctx, "create_round", func(t *txn) error {
		if len(specs) != e.p.MatchesPerRound {
			return fmt.Errorf("%w: got %d, want %d", ErrInvalidMatches, len(specs), e.p.MatchesPerRound)
		}
		t.lastRound++
		r := newRound(t.lastRound, specs, t.now)
		t.rounds[r.ID] = r
		t.emit(model.EvRoundCreated, r.ID, map[string]any{"matches": r.Matches})
		out = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("round created", zap.Int64("round", out.ID))
	return out, nil
}

// SeedRound funds a round's opening pools. The protocol reserve pays when it
// clears the circuit breaker; otherwise the capital source may step in.
func (e *Engine) SeedRound(ctx context.Context, roundID int64, seeds []model.MatchSeed) (*model.Round, error) {
	var out *model.Round
	err := e.do(ctx, "seed_round", func(t *txn) error {
		r, err := t.round(roundID)
		if err != nil {
			return err
		}
		if r.Seeded() {
			return ErrAlreadySeeded
		}
		if err := seedPools(r, seeds); err != nil {
			return err
		}
		total := seedTotal(seeds)

		breaker := t.res().SeedRound(total, e.p.SeedSafetyFactor)
		switch {
		case breaker == nil:
			r.SeedSource = model.SourceReserve
		case e.capital != nil && e.capital.CanFundSeeding(roundID, total):
			r.SeedSource = model.SourceCapital
			t.transferIn(model.CapitalAccount, total)
			t.after = append(t.after, func() {
				if !e.capital.FundSeeding(roundID, total) {
					e.log.Error("capital vault refused a committed seed", zap.Int64("round", roundID), zap.Int64("amount", total))
				}
			})
		default:
			return breaker
		}
		t.emit(model.EvRoundSeeded, roundID, map[string]any{
			"total_seed": total, "source": r.SeedSource, "pools": r.Pools,
		})
		out = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("round seeded",
		zap.Int64("round", roundID),
		zap.Int64("seed", out.ProtocolSeedAmount),
		zap.String("source", string(out.SeedSource)))
	return out, nil
}

// LockRound closes betting.
func (e *Engine) LockRound(ctx context.Context, roundID int64) (*model.Round, error) {
	var out *model.Round
	err := e.do(ctx, "lock_round", func(t *txn) error {
		r, err := t.round(roundID)
		if err != nil {
			return err
		}
		if r.Status != model.RoundOpen {
			return ErrNotOpen
		}
		r.Status = model.RoundLocked
		now := t.now
		r.LockedAt = &now
		t.emit(model.EvRoundLocked, roundID, map[string]any{"pools": r.Pools})
		out = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("round locked", zap.Int64("round", roundID))
	return out, nil
}

// FundReserve moves amount from the caller's wallet into the protocol reserve.
func (e *Engine) FundReserve(ctx context.Context, from string, amount int64) (model.ReserveState, error) {
	var out model.ReserveState
	err := e.do(ctx, "fund_reserve", func(t *txn) error {
		res := t.res()
		if err := res.Fund(amount); err != nil {
			return err
		}
		t.transferIn(from, amount)
		t.emit(model.EvReserveFunded, 0, map[string]any{"from": from, "amount": amount})
		out = res.State()
		return nil
	})
	if err != nil {
		return model.ReserveState{}, err
	}
	e.log.Info("reserve funded", zap.String("from", from), zap.Int64("amount", amount), zap.Int64("balance", out.Balance))
	return out, nil
}
