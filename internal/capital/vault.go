// Package capital provides an in-process LP vault that backs seeding and
// parlay bonuses when the protocol reserve runs short. Its balance mirrors
// the capital custody wallet; the engine moves the tokens, the vault keeps
// the books and decides what it is willing to cover.
package capital

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type Stats struct {
	Balance   int64 `json:"balance"`
	Reserved  int64 `json:"reserved"`
	Deposited int64 `json:"deposited"`
	Seeded    int64 `json:"seeded"`
	PaidOut   int64 `json:"paid_out"`
	Collected int64 `json:"collected"`
}

type Vault struct {
	mu       sync.Mutex
	st       Stats
	maxShare int64
	rounds   map[int64]int64
	log      *zap.Logger
}

// NewVault returns an empty vault. maxShareBps caps how much of the balance
// outstanding bonus reservations may claim together; 0 means no cap.
func NewVault(maxShareBps int64, log *zap.Logger) *Vault {
	if log == nil {
		log = zap.NewNop()
	}
	return &Vault{maxShare: maxShareBps, rounds: make(map[int64]int64), log: log.Named("capital")}
}

func (v *Vault) Deposit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit must be positive, got %d", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Balance += amount
	v.st.Deposited += amount
	return nil
}

func (v *Vault) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st
}

// free is the balance not already promised to a bonus.
func (v *Vault) free() int64 { return v.st.Balance - v.st.Reserved }

func (v *Vault) covers(amount int64) bool {
	if amount > v.free() {
		return false
	}
	return v.maxShare == 0 || (v.st.Reserved+amount)*10000 <= v.st.Balance*v.maxShare
}

// CanCoverPayout reports whether amount can be reserved on top of what is
// already outstanding.
func (v *Vault) CanCoverPayout(amount int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return amount >= 0 && v.covers(amount)
}

// ReserveBonus earmarks amount for a bonus the engine has committed to.
// Callers check CanCoverPayout first.
func (v *Vault) ReserveBonus(amount int64) {
	if amount <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Reserved += amount
}

// ReleaseBonus drops a reservation that will never be paid.
func (v *Vault) ReleaseBonus(amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Reserved -= min(max(amount, 0), v.st.Reserved)
}

func (v *Vault) canSeed(roundID, amount int64) (done, ok bool) {
	if prev, seen := v.rounds[roundID]; seen {
		return true, prev == amount
	}
	return false, amount > 0 && amount <= v.free()
}

// CanFundSeeding reports whether FundSeeding would accept the round.
func (v *Vault) CanFundSeeding(roundID int64, amount int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.canSeed(roundID, amount)
	return ok
}

// FundSeeding commits amount to a round's seed. A round is funded at most
// once; asking again for the same round reports the earlier decision.
func (v *Vault) FundSeeding(roundID int64, amount int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	done, ok := v.canSeed(roundID, amount)
	if done || !ok {
		return ok
	}
	v.st.Balance -= amount
	v.st.Seeded += amount
	v.rounds[roundID] = amount
	v.log.Info("seed funded", zap.Int64("round", roundID), zap.Int64("amount", amount))
	return true
}

// PayWinner pays a reserved bonus out of the vault.
func (v *Vault) PayWinner(to string, amount int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount > v.st.Balance {
		return fmt.Errorf("capital vault: balance %d cannot pay %d to %s", v.st.Balance, amount, to)
	}
	v.st.Balance -= amount
	v.st.Reserved -= min(amount, v.st.Reserved)
	v.st.PaidOut += amount
	v.log.Info("bonus paid", zap.String("to", to), zap.Int64("amount", amount))
	return nil
}

func (v *Vault) CollectLosingBet(amount int64) {
	if amount <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.st.Balance += amount
	v.st.Collected += amount
}
