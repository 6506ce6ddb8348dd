package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlay-pool/internal/capital"
	"parlay-pool/internal/engine"
	"parlay-pool/internal/memstore"
	"parlay-pool/internal/model"
)

// flakyStore fails every commit while down is set.
type flakyStore struct {
	*memstore.Store
	down atomic.Bool
}

func (s *flakyStore) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, s: s}, nil
}

type flakyTx struct {
	engine.Tx
	s *flakyStore
}

func (t *flakyTx) Commit() error {
	if t.s.down.Load() {
		return errors.New("connection reset by peer")
	}
	return t.Tx.Commit()
}

var twoLegs = []model.Prediction{
	{MatchIndex: 0, Pick: model.OutcomeHome},
	{MatchIndex: 1, Pick: model.OutcomeHome},
}

// capitalHarness starts an engine with an empty reserve, so the vault backs
// both the seed and every parlay bonus.
func capitalHarness(t *testing.T, wallet, vaulted int64) (*harness, *capital.Vault, *flakyStore) {
	t.Helper()
	store := memstore.New()
	backend := &flakyStore{Store: store}
	vault := capital.NewVault(0, nil)
	require.NoError(t, vault.Deposit(vaulted))
	h := harnessOn(t, store, backend, testParams(), engine.WithCapital(vault))
	_, err := store.DepositWallet(h.ctx, model.CapitalAccount, wallet)
	require.NoError(t, err)
	h.wallet("alice", 2_000)
	h.wallet("bob", 2_000)
	return h, vault, backend
}

func TestCapitalBonusIsReservedInVault(t *testing.T) {
	h, vault, _ := capitalHarness(t, 27_500, 27_500)
	r := h.seeded(skewedSeed(), skewedSeed(), skewedSeed())
	require.Equal(t, model.SourceCapital, r.SeedSource)

	alice, err := h.eng.PlaceBet(h.ctx, "alice", r.ID, twoLegs, 2_000)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCapital, alice.BonusSource)
	assert.Equal(t, int64(370), alice.ReservedBonus)
	assert.Equal(t, int64(370), vault.Stats().Reserved)

	// Only 130 of the vault is left unpromised.
	_, err = h.eng.PlaceBet(h.ctx, "bob", r.ID, twoLegs, 2_000)
	assert.ErrorIs(t, err, engine.ErrInsufficientReserve)
	assert.Equal(t, int64(2_000), h.balance("bob"))
	assert.Equal(t, int64(370), vault.Stats().Reserved)

	// A losing bet hands its reservation back.
	h.settle(r.ID, model.OutcomeAway, model.OutcomeHome, model.OutcomeHome)
	assert.Zero(t, vault.Stats().Reserved)
	assert.Equal(t, int64(500), vault.Stats().Balance)
}

func TestCapitalBackedClaimAndRevenue(t *testing.T) {
	h, vault, _ := capitalHarness(t, 27_500, 27_500)
	r := h.seeded(skewedSeed(), skewedSeed(), skewedSeed())
	bet, err := h.eng.PlaceBet(h.ctx, "alice", r.ID, twoLegs, 2_000)
	require.NoError(t, err)
	h.settle(r.ID, model.OutcomeHome, model.OutcomeHome, model.OutcomeHome)

	claimed, err := h.eng.Claim(h.ctx, "alice", bet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_471), claimed.BasePayout)
	assert.Equal(t, int64(2_841), claimed.PaidOut)
	assert.Equal(t, int64(2_841), h.balance("alice"))
	assert.Equal(t, int64(130), h.balance(model.CapitalAccount))
	st := vault.Stats()
	assert.Equal(t, int64(130), st.Balance)
	assert.Equal(t, int64(370), st.PaidOut)
	assert.Zero(t, st.Reserved)
	assert.Zero(t, h.eng.Reserve().LockedBonus)

	split, err := h.eng.FinalizeRoundRevenue(h.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8_529), split.NetRevenue)
	assert.Equal(t, int64(4_520), split.CapitalShare)
	assert.Equal(t, int64(170), split.SeasonShare)
	assert.Equal(t, int64(3_839), split.ProtocolShare)
	assert.Equal(t, int64(18_000), split.RecoveredCapital)

	st = vault.Stats()
	assert.Equal(t, int64(22_520), st.Collected)
	assert.Equal(t, int64(22_650), st.Balance)
	assert.Equal(t, st.Balance, h.balance(model.CapitalAccount))

	res := h.eng.Reserve()
	assert.Equal(t, int64(3_839), res.Balance)
	assert.Equal(t, res.Balance+res.SeasonPool+res.LockedBonus, h.balance(model.HouseAccount))
}

func TestVaultUntouchedWhenCommitFails(t *testing.T) {
	h, vault, backend := capitalHarness(t, 27_500, 27_500)
	r := h.round()
	seeds := []model.MatchSeed{skewedSeed(), skewedSeed(), skewedSeed()}
	before := vault.Stats()

	backend.down.Store(true)
	_, err := h.eng.SeedRound(h.ctx, r.ID, seeds)
	require.Error(t, err)
	assert.Equal(t, before, vault.Stats())
	got, _ := h.eng.Round(r.ID)
	assert.False(t, got.Seeded())

	backend.down.Store(false)
	_, err = h.eng.SeedRound(h.ctx, r.ID, seeds)
	require.NoError(t, err)
	assert.Equal(t, int64(27_000), vault.Stats().Seeded)

	backend.down.Store(true)
	_, err = h.eng.PlaceBet(h.ctx, "alice", r.ID, twoLegs, 2_000)
	require.Error(t, err)
	assert.Zero(t, vault.Stats().Reserved)

	backend.down.Store(false)
	bet, err := h.eng.PlaceBet(h.ctx, "alice", r.ID, twoLegs, 2_000)
	require.NoError(t, err)
	h.settle(r.ID, model.OutcomeHome, model.OutcomeHome, model.OutcomeHome)

	backend.down.Store(true)
	_, err = h.eng.Claim(h.ctx, "alice", bet.ID)
	require.Error(t, err)
	assert.Zero(t, vault.Stats().PaidOut)
	assert.Equal(t, int64(370), vault.Stats().Reserved)

	backend.down.Store(false)
	_, err = h.eng.Claim(h.ctx, "alice", bet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(370), vault.Stats().PaidOut)
}

func TestCustodyShortfallIsNotBettorError(t *testing.T) {
	// The vault believes in 500 more than the capital wallet holds.
	h, _, _ := capitalHarness(t, 27_000, 27_500)
	r := h.seeded(skewedSeed(), skewedSeed(), skewedSeed())
	bet, err := h.eng.PlaceBet(h.ctx, "alice", r.ID, twoLegs, 2_000)
	require.NoError(t, err)
	require.Equal(t, model.SourceCapital, bet.BonusSource)
	h.settle(r.ID, model.OutcomeHome, model.OutcomeHome, model.OutcomeHome)

	_, err = h.eng.Claim(h.ctx, "alice", bet.ID)
	assert.ErrorIs(t, err, engine.ErrCustodyShortfall)
	assert.Equal(t, engine.KindCapacity, engine.KindOf(err))
	assert.Equal(t, "custody_shortfall", engine.CodeOf(err))
	got, _ := h.eng.Bet(bet.ID)
	assert.True(t, got.Claimable())

	_, err = h.store.DepositWallet(h.ctx, model.CapitalAccount, 370)
	require.NoError(t, err)
	_, err = h.eng.Claim(h.ctx, "alice", bet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_841), h.balance("alice"))
}

func TestCapitalReservationsSurviveRestart(t *testing.T) {
	h, _, _ := capitalHarness(t, 27_500, 27_500)
	r := h.seeded(skewedSeed(), skewedSeed(), skewedSeed())
	_, err := h.eng.PlaceBet(h.ctx, "alice", r.ID, twoLegs, 2_000)
	require.NoError(t, err)

	vault := capital.NewVault(0, nil)
	require.NoError(t, vault.Deposit(h.balance(model.CapitalAccount)))
	h2 := startHarness(t, h.store, testParams(), engine.WithCapital(vault))
	assert.Equal(t, int64(370), vault.Stats().Reserved)

	_, err = h2.eng.PlaceBet(h2.ctx, "bob", r.ID, twoLegs, 2_000)
	assert.ErrorIs(t, err, engine.ErrInsufficientReserve)
}
