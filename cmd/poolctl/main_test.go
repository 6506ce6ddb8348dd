package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlay-pool/internal/api"
	"parlay-pool/internal/engine"
	"parlay-pool/internal/memstore"
)

func newConsole(t *testing.T) *client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p := engine.DefaultParams()
	p.MatchesPerRound = 2
	p.MaxLegs = 2
	store := memstore.New()
	eng, err := engine.New(ctx, store, p)
	require.NoError(t, err)
	go eng.Run(ctx)

	op, err := api.EnsureOperator(ctx, store, "op@pool.test", "operator-pass")
	require.NoError(t, err)
	_, err = store.DepositWallet(ctx, op.ID, 50_000)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(api.Deps{Store: store, Engine: eng, Secret: "console-test-secret"}).Router())
	t.Cleanup(srv.Close)

	c := newClient(srv.URL+"/", "")
	require.NoError(t, c.login(ctx, "op@pool.test", "operator-pass"))
	return c
}

func TestConsoleRoundFlow(t *testing.T) {
	c := newConsole(t)
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, run(ctx, c, &out, "fund", []string{"40000"}))
	assert.Contains(t, out.String(), "40000")

	out.Reset()
	require.NoError(t, run(ctx, c, &out, "create-round", []string{"Ajax-PSV", "Porto-Benfica"}))
	assert.Equal(t, "round 1 created with 2 matches\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, c, &out, "seed", []string{"1", "3000"}))
	assert.Equal(t, "round 1 seeded with 6000 from RESERVE\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, c, &out, "round", []string{"1"}))
	assert.Contains(t, out.String(), "Benfica")
	assert.Contains(t, out.String(), "1000/1000/1000")

	out.Reset()
	require.NoError(t, run(ctx, c, &out, "lock", []string{"1"}))
	assert.Equal(t, "round 1 locked\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, c, &out, "rounds", nil))
	assert.Contains(t, out.String(), "LOCKED")

	err := run(ctx, c, &out, "manual-settle", []string{"1", "home,away"})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
	assert.Equal(t, "oracle_timeout", apiErr.Code)
}

func TestConsoleArgumentErrors(t *testing.T) {
	c := newClient("http://127.0.0.1:0", "")
	ctx := context.Background()
	var out bytes.Buffer

	assert.True(t, errors.Is(run(ctx, c, &out, "seed", []string{"1"}), errUsage))
	assert.True(t, errors.Is(run(ctx, c, &out, "lock", []string{"x"}), errUsage))
	assert.True(t, errors.Is(run(ctx, c, &out, "create-round", []string{"NoDash"}), errUsage))
	assert.True(t, errors.Is(run(ctx, c, &out, "bogus", nil), errUsage))
}
