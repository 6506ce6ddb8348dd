package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	dels   int
}

func (m *memKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memKV) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (m *memKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dels++
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRoundOddsReadThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	kv := &memKV{data: map[string]string{}}
	c := NewOdds(kv, time.Minute, 8, zap.NewNop())
	go c.Run(ctx)

	calls := 0
	load := func() ([]model.Odds, error) {
		calls++
		return []model.Odds{{MatchIndex: 0, Home: decimal.RequireFromString("2.5")}}, nil
	}

	first, err := c.RoundOdds(ctx, 3, load)
	require.NoError(t, err)
	second, err := c.RoundOdds(ctx, 3, load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, first[0].Home.Equal(second[0].Home))

	round := int64(3)
	c.Publish(ctx, model.Event{Type: model.EvMatchResolved, RoundID: &round})
	c.Publish(ctx, model.Event{Type: model.EvBetPlaced})
	assert.Empty(t, c.stale)

	c.Publish(ctx, model.Event{Type: model.EvBetPlaced, RoundID: &round})
	require.Eventually(t, func() bool { return !kv.has(oddsKey(3)) }, time.Second, 5*time.Millisecond)
	_, _ = c.RoundOdds(ctx, 3, load)
	assert.Equal(t, 2, calls)
}

func TestInvalidationNeverBlocksPublisher(t *testing.T) {
	kv := &memKV{data: map[string]string{oddsKey(1): "[]"}}
	c := NewOdds(kv, time.Minute, 2, zap.NewNop())

	// Nothing drains the queue yet: the third event is dropped, not waited on.
	round := int64(1)
	for range 3 {
		c.Publish(context.Background(), model.Event{Type: model.EvBetPlaced, RoundID: &round})
	}
	assert.Len(t, c.stale, 2)
	assert.True(t, kv.has(oddsKey(1)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	require.Eventually(t, func() bool {
		kv.mu.Lock()
		defer kv.mu.Unlock()
		return kv.dels == 2
	}, time.Second, 5*time.Millisecond)
	assert.False(t, kv.has(oddsKey(1)))
}

func TestRoundOddsFallsBackWhenRedisFails(t *testing.T) {
	kv := &memKV{data: map[string]string{}, getErr: errors.New("connection refused")}
	c := NewOdds(kv, time.Minute, 0, zap.NewNop())

	out, err := c.RoundOdds(context.Background(), 1, func() ([]model.Odds, error) {
		return []model.Odds{{MatchIndex: 4}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, out[0].MatchIndex)

	_, err = c.RoundOdds(context.Background(), 1, func() ([]model.Odds, error) { return nil, errors.New("round not found") })
	assert.Error(t, err)
}
