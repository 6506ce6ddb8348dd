package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlay-pool/internal/capital"
	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
)

func lockedRound(h *harness) *model.Round {
	h.t.Helper()
	h.fund(100_000)
	r := h.seeded(model.EvenSeed(3000), model.EvenSeed(3000), model.EvenSeed(3000))
	_, err := h.eng.LockRound(h.ctx, r.ID)
	require.NoError(h.t, err)
	return r
}

func TestRequestOutcomesNeedsLockedRound(t *testing.T) {
	h := newHarness(t, testParams())
	h.fund(100_000)
	r := h.seeded(model.EvenSeed(3000), model.EvenSeed(3000), model.EvenSeed(3000))

	_, err := h.eng.RequestOutcomes(h.ctx, r.ID)
	assert.ErrorIs(t, err, engine.ErrNotLocked)
	_, err = h.eng.RequestOutcomes(h.ctx, 99)
	assert.ErrorIs(t, err, engine.ErrRoundNotFound)
}

func TestOracleCooldownAndManualSettle(t *testing.T) {
	h := newHarness(t, testParams())
	r := lockedRound(h)
	results := []model.Outcome{model.OutcomeHome, model.OutcomeAway, model.OutcomeDraw}

	err := h.eng.ManualSettle(h.ctx, r.ID, results)
	assert.Equal(t, engine.KindOracleTimeout, engine.KindOf(err))

	first, err := h.eng.RequestOutcomes(h.ctx, r.ID)
	require.NoError(t, err)
	_, err = h.eng.RequestOutcomes(h.ctx, r.ID)
	assert.ErrorIs(t, err, engine.ErrOracleCooldown)
	assert.Empty(t, h.eng.OverdueRounds(h.clk.Now()))

	h.clk.Advance(5 * time.Minute)
	assert.Equal(t, []int64{r.ID}, h.eng.OverdueRounds(h.clk.Now()))
	second, err := h.eng.RequestOutcomes(h.ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, h.eng.PendingRequests(), 2)

	err = h.eng.ManualSettle(h.ctx, r.ID, results)
	assert.ErrorIs(t, err, engine.ErrOracleTimeout)

	// The timeout runs from the first request, not the re-issue.
	h.clk.Advance(55 * time.Minute)
	require.NoError(t, h.eng.ManualSettle(h.ctx, r.ID, results))

	got, err := h.eng.Round(r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundSettled, got.Status)
	assert.Empty(t, h.eng.PendingRequests())

	assert.ErrorIs(t, h.eng.OnOutcomesReady(h.ctx, first.ID, results), engine.ErrUnknownRequest)
	assert.ErrorIs(t, h.eng.OnOutcomesReady(h.ctx, second.ID, results), engine.ErrUnknownRequest)
}

func TestFirstOracleAnswerWins(t *testing.T) {
	h := newHarness(t, testParams())
	r := lockedRound(h)

	first, err := h.eng.RequestOutcomes(h.ctx, r.ID)
	require.NoError(t, err)
	h.clk.Advance(6 * time.Minute)
	second, err := h.eng.RequestOutcomes(h.ctx, r.ID)
	require.NoError(t, err)

	require.NoError(t, h.eng.OnOutcomesReady(h.ctx, first.ID, []model.Outcome{model.OutcomeHome, model.OutcomeVoid, model.OutcomeAway}))
	err = h.eng.OnOutcomesReady(h.ctx, second.ID, []model.Outcome{model.OutcomeAway, model.OutcomeAway, model.OutcomeAway})
	assert.ErrorIs(t, err, engine.ErrUnknownRequest)

	got, err := h.eng.Round(r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeHome, got.Matches[0].Outcome)
	assert.Equal(t, model.OutcomeVoid, got.Matches[1].Outcome)
	assert.Empty(t, h.eng.OverdueRounds(h.clk.Now().Add(time.Hour)))
}

func TestOracleRejectsMalformedResults(t *testing.T) {
	h := newHarness(t, testParams())
	r := lockedRound(h)
	req, err := h.eng.RequestOutcomes(h.ctx, r.ID)
	require.NoError(t, err)

	err = h.eng.OnOutcomesReady(h.ctx, req.ID, []model.Outcome{model.OutcomeHome})
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))

	// A rejected answer leaves the request open for a good one.
	require.NoError(t, h.eng.OnOutcomesReady(h.ctx, req.ID, []model.Outcome{model.OutcomeHome, model.OutcomeHome, model.OutcomeHome}))
}

func TestCapitalSeedsWhenReserveShort(t *testing.T) {
	vault := capital.NewVault(0, nil)
	h := newHarness(t, testParams(), engine.WithCapital(vault))
	_, err := h.store.DepositWallet(h.ctx, model.CapitalAccount, 50_000)
	require.NoError(t, err)
	require.NoError(t, vault.Deposit(50_000))

	r := h.seeded(model.EvenSeed(3000), model.EvenSeed(3000), model.EvenSeed(3000))
	assert.Equal(t, model.SourceCapital, r.SeedSource)
	assert.Equal(t, int64(9000), vault.Stats().Seeded)
	assert.Equal(t, int64(41_000), h.balance(model.CapitalAccount))
	assert.Equal(t, int64(9000), h.balance(model.HouseAccount))
	assert.Zero(t, h.eng.Reserve().TotalSeeded)
}

func TestClaimWindowCloses(t *testing.T) {
	h := newHarness(t, testParams())
	h.fund(100_000)
	h.wallet("alice", 10_000)
	r := h.seeded(model.EvenSeed(3000), model.EvenSeed(3000), model.EvenSeed(3000))
	bet, err := h.eng.PlaceBet(h.ctx, "alice", r.ID, single(0, model.OutcomeHome), 1000)
	require.NoError(t, err)
	h.settle(r.ID, model.OutcomeHome, model.OutcomeHome, model.OutcomeHome)

	h.clk.Advance(48*time.Hour + time.Second)
	_, err = h.eng.Claim(h.ctx, "alice", bet.ID)
	assert.ErrorIs(t, err, engine.ErrClaimWindowExpired)
}
