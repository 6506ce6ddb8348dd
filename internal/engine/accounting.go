package engine

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"parlay-pool/internal/model"
)

// ── Round accounting ─────────────────────────────────
//
// These helpers mutate a staged *model.Round. The engine only ever hands
// them clones, so a failed operation leaves the live round untouched.

// MatchSpec names the teams of one match when creating a round.
type MatchSpec struct {
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
}

func newRound(id int64, specs []MatchSpec, now time.Time) *model.Round {
	r := &model.Round{
		ID:        id,
		Status:    model.RoundCreated,
		Matches:   make([]model.Match, len(specs)),
		Pools:     make([]model.MatchPool, len(specs)),
		CreatedAt: now,
	}
	for i, s := range specs {
		r.Matches[i] = model.Match{Index: i, HomeTeam: s.HomeTeam, AwayTeam: s.AwayTeam, Outcome: model.OutcomePending}
	}
	return r
}

func seedPools(r *model.Round, seeds []model.MatchSeed) error {
	if r.Seeded() {
		return ErrAlreadySeeded
	}
	if len(seeds) != len(r.Pools) {
		return ErrInvalidSeed
	}
	var total int64
	for i, s := range seeds {
		if s.Home <= 0 || s.Away <= 0 || s.Draw <= 0 {
			return ErrInvalidSeed
		}
		r.Pools[i] = model.MatchPool{Home: s.Home, Away: s.Away, Draw: s.Draw, Seed: s.Total()}
		total += s.Total()
	}
	r.ProtocolSeedAmount = total
	r.Status = model.RoundOpen
	return nil
}

func seedTotal(seeds []model.MatchSeed) int64 {
	var total int64
	for _, s := range seeds {
		total += s.Total()
	}
	return total
}

func addStake(r *model.Round, matchIndex int, o model.Outcome, amount int64) error {
	if r.Status != model.RoundOpen {
		return ErrBettingClosed
	}
	if matchIndex < 0 || matchIndex >= len(r.Pools) {
		return ErrInvalidMatch
	}
	if !o.Pickable() {
		return ErrInvalidPick
	}
	r.Pools[matchIndex].Add(o, amount)
	return nil
}

func recordOutcome(r *model.Round, matchIndex int, o model.Outcome, now time.Time) error {
	if r.Status != model.RoundLocked {
		return ErrNotLocked
	}
	if matchIndex < 0 || matchIndex >= len(r.Matches) {
		return ErrInvalidMatch
	}
	if !o.Final() {
		return ErrInvalidOutcome
	}
	m := &r.Matches[matchIndex]
	if m.Outcome != model.OutcomePending {
		return ErrAlreadyResolved
	}
	m.Outcome = o
	m.ResolvedAt = &now
	return nil
}

func isFullySettled(r *model.Round) bool {
	for _, m := range r.Matches {
		if m.Outcome == model.OutcomePending {
			return false
		}
	}
	return true
}

// losingPool sums the non-winning pools of every decided match. Void
// matches have no losers.
func losingPool(r *model.Round) int64 {
	var total int64
	for i, m := range r.Matches {
		if !m.Outcome.Pickable() {
			continue
		}
		p := r.Pools[i]
		total += p.Total() - p.Of(m.Outcome)
	}
	return total
}

// ── Stake allocation ─────────────────────────────────

// remainderLeg picks the leg that absorbs the indivisible remainder of a
// stake. The bet id is generated by the engine after the request is
// accepted, so the bettor cannot steer it.
func remainderLeg(betID uuid.UUID, legs int) int {
	if legs <= 1 {
		return 0
	}
	return int(binary.BigEndian.Uint64(betID[:8]) % uint64(legs))
}

// splitEven divides amount across legs, adding the remainder to leg extra.
func splitEven(amount int64, legs, extra int) []int64 {
	out := make([]int64, legs)
	if legs == 0 {
		return out
	}
	each := amount / int64(legs)
	for i := range out {
		out[i] = each
	}
	out[extra] += amount - each*int64(legs)
	return out
}
