package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/memstore"
	"parlay-pool/internal/model"
)

func TestSignVerify(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"request_id":"r1"}`)
	sig := Sign(secret, body)

	assert.True(t, Verify(secret, body, sig))
	assert.False(t, Verify(secret, []byte(`{"request_id":"r2"}`), sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify(nil, body, Sign(nil, body)))
	assert.False(t, Verify(secret, body, "not-hex"))
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	var got OutcomeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !Verify([]byte("k"), body, r.Header.Get(SignatureHeader)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "http://pool/oracle/callback", "k", 1000, zap.NewNop())
	c.wait = func(context.Context, int) {}

	req := model.OracleRequest{ID: "req-1", RoundID: 4}
	err := c.RequestOutcomes(context.Background(), req, []model.Match{{Index: 0, HomeTeam: "A", AwayTeam: "B"}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "http://pool/oracle/callback", got.CallbackURL)
	assert.Len(t, got.Matches, 1)
}

func TestClientGivesUpOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unknown round", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "k", 1000, zap.NewNop())
	c.wait = func(context.Context, int) {}
	err := c.RequestOutcomes(context.Background(), model.OracleRequest{ID: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown round")
	assert.Equal(t, int32(1), hits.Load())
}

type fakeRequester struct {
	mu      sync.Mutex
	overdue []int64
	issued  []int64
	errs    map[int64]error
}

func (f *fakeRequester) OverdueRounds(time.Time) []int64 { return f.overdue }

func (f *fakeRequester) RequestOutcomes(_ context.Context, id int64) (*model.OracleRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	f.issued = append(f.issued, id)
	return &model.OracleRequest{ID: "r", RoundID: id}, nil
}

func TestWatchdogReissuesOverdueRounds(t *testing.T) {
	f := &fakeRequester{overdue: []int64{1, 2, 3}, errs: map[int64]error{2: engine.ErrOracleCooldown}}
	w := NewWatchdog(f, time.Minute, zap.NewNop())

	assert.Equal(t, 2, w.Tick(context.Background()))
	assert.Equal(t, []int64{1, 3}, f.issued)
}

func TestSimulatorSettlesRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := engine.DefaultParams()
	p.MatchesPerRound = 2
	p.MaxLegs = 2
	store := memstore.New()
	sim := NewSimulator(0, zap.NewNop())
	eng, err := engine.New(ctx, store, p, engine.WithOracle(sim))
	require.NoError(t, err)
	sim.Bind(eng)
	go eng.Run(ctx)

	require.NoError(t, store.CreateWallet(ctx, "op"))
	_, err = store.DepositWallet(ctx, "op", 100_000)
	require.NoError(t, err)
	_, err = eng.FundReserve(ctx, "op", 100_000)
	require.NoError(t, err)

	r, err := eng.CreateRound(ctx, []engine.MatchSpec{{HomeTeam: "A", AwayTeam: "B"}, {HomeTeam: "C", AwayTeam: "D"}})
	require.NoError(t, err)
	_, err = eng.SeedRound(ctx, r.ID, []model.MatchSeed{model.EvenSeed(3000), model.EvenSeed(3000)})
	require.NoError(t, err)
	_, err = eng.LockRound(ctx, r.ID)
	require.NoError(t, err)
	_, err = eng.RequestOutcomes(ctx, r.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := eng.Round(r.ID)
		return err == nil && got.Status == model.RoundSettled
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := eng.Round(r.ID)
	for _, m := range got.Matches {
		assert.True(t, m.Outcome.Pickable())
	}
}
