package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlay-pool/internal/model"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func threeMatchRound(t *testing.T) *model.Round {
	t.Helper()
	r := newRound(7, []MatchSpec{{"A", "B"}, {"C", "D"}, {"E", "F"}}, testEpoch)
	require.NoError(t, seedPools(r, []model.MatchSeed{
		{Home: 2000, Away: 8000, Draw: 10000},
		model.EvenSeed(3000),
		model.EvenSeed(3000),
	}))
	return r
}

func TestSeedPools(t *testing.T) {
	r := threeMatchRound(t)
	assert.Equal(t, model.RoundOpen, r.Status)
	assert.Equal(t, int64(26000), r.ProtocolSeedAmount)
	assert.Equal(t, int64(20000), r.Pools[0].Seed)

	assert.ErrorIs(t, seedPools(r, nil), ErrAlreadySeeded)

	fresh := newRound(8, []MatchSpec{{"A", "B"}}, testEpoch)
	assert.ErrorIs(t, seedPools(fresh, []model.MatchSeed{{Home: 1, Away: 0, Draw: 1}}), ErrInvalidSeed)
	assert.ErrorIs(t, seedPools(fresh, nil), ErrInvalidSeed)
	assert.Equal(t, model.RoundCreated, fresh.Status)
}

func TestAddStakeOnlyWhileOpen(t *testing.T) {
	r := threeMatchRound(t)
	require.NoError(t, addStake(r, 0, model.OutcomeHome, 500))
	assert.Equal(t, int64(2500), r.Pools[0].Home)

	assert.ErrorIs(t, addStake(r, 3, model.OutcomeHome, 1), ErrInvalidMatch)
	assert.ErrorIs(t, addStake(r, 0, model.OutcomeVoid, 1), ErrInvalidPick)

	r.Status = model.RoundLocked
	assert.ErrorIs(t, addStake(r, 0, model.OutcomeHome, 1), ErrBettingClosed)
}

func TestRecordOutcomeOnce(t *testing.T) {
	r := threeMatchRound(t)
	assert.ErrorIs(t, recordOutcome(r, 0, model.OutcomeHome, testEpoch), ErrNotLocked)

	r.Status = model.RoundLocked
	require.NoError(t, recordOutcome(r, 0, model.OutcomeHome, testEpoch))
	assert.ErrorIs(t, recordOutcome(r, 0, model.OutcomeAway, testEpoch), ErrAlreadyResolved)
	assert.Equal(t, model.OutcomeHome, r.Matches[0].Outcome)
	assert.ErrorIs(t, recordOutcome(r, 1, model.OutcomePending, testEpoch), ErrInvalidOutcome)
	assert.False(t, isFullySettled(r))

	require.NoError(t, recordOutcome(r, 1, model.OutcomeVoid, testEpoch))
	require.NoError(t, recordOutcome(r, 2, model.OutcomeAway, testEpoch))
	assert.True(t, isFullySettled(r))

	// 8000+10000 from match 0, nothing from the void match, 2000 from match 2.
	assert.Equal(t, int64(20000), losingPool(r))
}

func TestSplitEven(t *testing.T) {
	assert.Equal(t, []int64{33, 34, 33}, splitEven(100, 3, 1))
	assert.Equal(t, []int64{100}, splitEven(100, 1, 0))
	assert.Equal(t, []int64{25, 25, 25, 25}, splitEven(100, 4, 3))

	var sum int64
	for _, v := range splitEven(1_000_003, 7, 6) {
		sum += v
	}
	assert.Equal(t, int64(1_000_003), sum)
}

func TestRemainderLegInRange(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		leg := remainderLeg(uuid.New(), 3)
		require.GreaterOrEqual(t, leg, 0)
		require.Less(t, leg, 3)
		seen[leg] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 0, remainderLeg(uuid.New(), 1))
}

func TestEvaluateLegs(t *testing.T) {
	p := DefaultParams()
	r := threeMatchRound(t)
	require.NoError(t, addStake(r, 0, model.OutcomeHome, 10000))
	r.Status = model.RoundLocked
	require.NoError(t, recordOutcome(r, 0, model.OutcomeHome, testEpoch))
	require.NoError(t, recordOutcome(r, 1, model.OutcomeVoid, testEpoch))
	require.NoError(t, recordOutcome(r, 2, model.OutcomeAway, testEpoch))
	outcome := func(i int) model.Outcome { return r.Matches[i].Outcome }

	single := evaluateLegs(p, r, []model.Prediction{{MatchIndex: 0, Pick: model.OutcomeHome, LegStake: 10000}}, outcome)
	assert.True(t, single.Won)
	assert.Equal(t, int64(18250), single.Base)
	assert.Equal(t, int64(10000), single.Principal)

	lost := evaluateLegs(p, r, []model.Prediction{
		{MatchIndex: 0, Pick: model.OutcomeHome, LegStake: 100},
		{MatchIndex: 2, Pick: model.OutcomeHome, LegStake: 100},
	}, outcome)
	assert.False(t, lost.Won)
	assert.Zero(t, lost.Base)

	void := evaluateLegs(p, r, []model.Prediction{{MatchIndex: 1, Pick: model.OutcomeDraw, LegStake: 500}}, outcome)
	assert.False(t, void.Won)
	assert.True(t, void.AllVoid)
	assert.Equal(t, int64(500), void.Base)
}

func TestReserveManager(t *testing.T) {
	res := NewReserveManager(model.ReserveState{})
	assert.ErrorIs(t, res.Fund(0), ErrInvalidAmount)
	require.NoError(t, res.Fund(5000))

	assert.ErrorIs(t, res.SeedRound(3000, 3), ErrCircuitBreakerTripped)
	require.NoError(t, res.Fund(5000))
	require.NoError(t, res.SeedRound(3000, 3))
	assert.Equal(t, int64(7000), res.State().Balance)

	require.NoError(t, res.ReserveBonus(6000))
	assert.ErrorIs(t, res.ReserveBonus(1001), ErrInsufficientReserve)
	res.ReleaseBonus(2000)
	res.ConsumeBonus(1000)
	st := res.State()
	assert.Equal(t, int64(3000), st.Balance)
	assert.Equal(t, int64(3000), st.LockedBonus)
	assert.Equal(t, int64(1000), st.TotalBonuses)

	assert.ErrorIs(t, res.Absorb(3001), ErrInsufficientReserve)
	require.NoError(t, res.Absorb(3000))
	assert.Zero(t, res.State().Balance)
}

func TestEnforceCaps(t *testing.T) {
	p := DefaultParams()
	assert.NoError(t, EnforceCaps(p, p.MaxBetAmount, p.MaxPayoutPerBet))
	assert.ErrorIs(t, EnforceCaps(p, p.MaxBetAmount+1, 0), ErrMaxBetExceeded)
	assert.ErrorIs(t, EnforceCaps(p, 1, p.MaxPayoutPerBet+1), ErrMaxPayoutExceeded)
	assert.Equal(t, KindCapacity, KindOf(EnforceCaps(p, p.MaxBetAmount+1, 0)))
}

func TestParamsValidate(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())

	bad := p
	bad.CapitalShareBps = 5000
	assert.Error(t, bad.Validate())

	bad = p
	bad.Schedule = "both"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSchedule)

	bad = p
	bad.MaxLegs = 11
	assert.Error(t, bad.Validate())
}
