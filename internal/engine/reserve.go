package engine

import (
	"fmt"

	"parlay-pool/internal/model"
)

// ReserveManager owns the protocol reserve. Balances are only reachable
// through its check-then-mutate operations; State returns a copy.
type ReserveManager struct {
	st model.ReserveState
}

func NewReserveManager(st model.ReserveState) *ReserveManager {
	return &ReserveManager{st: st}
}

func (r *ReserveManager) State() model.ReserveState { return r.st }

func (r *ReserveManager) clone() *ReserveManager {
	c := *r
	return &c
}

func (r *ReserveManager) Fund(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	r.st.Balance += amount
	r.st.TotalFunded += amount
	return nil
}

// CheckSeed is the seeding circuit breaker: the reserve must hold
// SeedSafetyFactor times the seed, not merely the seed.
func (r *ReserveManager) CheckSeed(total, factor int64) error {
	if r.st.Balance < total*factor {
		return fmt.Errorf("%w: have %d, need %d", ErrCircuitBreakerTripped, r.st.Balance, total*factor)
	}
	return nil
}

// SeedRound debits a seed after the circuit breaker passes.
func (r *ReserveManager) SeedRound(total, factor int64) error {
	if err := r.CheckSeed(total, factor); err != nil {
		return err
	}
	r.st.Balance -= total
	r.st.TotalSeeded += total
	return nil
}

// Spend debits the reserve for a non-bonus outflow such as a stake bonus.
func (r *ReserveManager) Spend(amount int64) error {
	if amount > r.st.Balance {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientReserve, r.st.Balance, amount)
	}
	r.st.Balance -= amount
	return nil
}

// Credit returns tokens to the free balance: revenue, fees, recovered seed.
func (r *ReserveManager) Credit(amount int64) {
	r.st.Balance += amount
}

func (r *ReserveManager) CreditSeason(amount int64) {
	r.st.SeasonPool += amount
}

// ReserveBonus moves amount from the free balance to locked liability.
func (r *ReserveManager) ReserveBonus(amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount > r.st.Balance {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientReserve, r.st.Balance, amount)
	}
	r.st.Balance -= amount
	r.st.LockedBonus += amount
	return nil
}

// ReleaseBonus returns an unused reservation to the free balance.
func (r *ReserveManager) ReleaseBonus(amount int64) {
	if amount > r.st.LockedBonus {
		amount = r.st.LockedBonus
	}
	r.st.LockedBonus -= amount
	r.st.Balance += amount
}

// ConsumeBonus drops liability that is being paid out to a winner.
func (r *ReserveManager) ConsumeBonus(amount int64) {
	if amount > r.st.LockedBonus {
		amount = r.st.LockedBonus
	}
	r.st.LockedBonus -= amount
	r.st.TotalBonuses += amount
}

// Absorb covers a round's negative net revenue from the free balance.
func (r *ReserveManager) Absorb(shortfall int64) error {
	if shortfall > r.st.Balance {
		return fmt.Errorf("%w: shortfall %d exceeds reserve %d", ErrInsufficientReserve, shortfall, r.st.Balance)
	}
	r.st.Balance -= shortfall
	return nil
}

// EnforceCaps rejects a bet whose stake or worst-case payout is over the
// per-bet limits.
func EnforceCaps(p Params, stake, estimatedPayout int64) error {
	if stake > p.MaxBetAmount {
		return fmt.Errorf("%w: %d > %d", ErrMaxBetExceeded, stake, p.MaxBetAmount)
	}
	if estimatedPayout > p.MaxPayoutPerBet {
		return fmt.Errorf("%w: %d > %d", ErrMaxPayoutExceeded, estimatedPayout, p.MaxPayoutPerBet)
	}
	return nil
}

// enforceRoundWorstCase rejects a bet that would let the round owe more than
// its cap. Base payouts can never exceed the round's pools, so pools plus
// every reserved bonus bound what claims can draw.
func enforceRoundWorstCase(p Params, r *model.Round, reserved int64) error {
	var pools int64
	for _, pl := range r.Pools {
		pools += pl.Total()
	}
	if pools+reserved > p.MaxRoundPayouts {
		return fmt.Errorf("%w: worst case %d + %d > %d", ErrRoundPayoutCap, pools, reserved, p.MaxRoundPayouts)
	}
	return nil
}

// enforceRoundCap rejects a payout that would push the round over its cap.
func enforceRoundCap(p Params, r *model.Round, amount int64) error {
	if r.TotalPaidOut+amount > p.MaxRoundPayouts {
		return fmt.Errorf("%w: paid %d + %d > %d", ErrRoundPayoutCap, r.TotalPaidOut, amount, p.MaxRoundPayouts)
	}
	return nil
}
