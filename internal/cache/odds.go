// Package cache keeps displayed round odds in Redis. Entries are filled on
// read and dropped whenever an event changes a round's pools.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// store is the slice of redis.Cmdable the cache needs.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Connect opens a client and checks it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Odds is read through on request and invalidated from its own goroutine,
// so Redis latency never reaches the engine.
type Odds struct {
	r     store
	ttl   time.Duration
	stale chan int64
	log   *zap.Logger
}

func NewOdds(r store, ttl time.Duration, buffer int, log *zap.Logger) *Odds {
	if buffer <= 0 {
		buffer = 256
	}
	return &Odds{r: r, ttl: ttl, stale: make(chan int64, buffer), log: log.Named("odds_cache")}
}

func oddsKey(roundID int64) string { return "odds:" + model.RoomKey(roundID) }

// RoundOdds returns cached odds for the round, calling load on a miss. A
// broken cache degrades to load rather than failing the read.
func (c *Odds) RoundOdds(ctx context.Context, roundID int64, load func() ([]model.Odds, error)) ([]model.Odds, error) {
	b, err := c.r.Get(ctx, oddsKey(roundID)).Bytes()
	switch {
	case err == nil:
		var out []model.Odds
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("cache get", zap.Int64("round", roundID), zap.Error(err))
	}

	out, err := load()
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := c.r.Set(ctx, oddsKey(roundID), b, c.ttl).Err(); err != nil {
			c.log.Warn("cache set", zap.Int64("round", roundID), zap.Error(err))
		}
	}
	return out, nil
}

// Publish queues an invalidation for a round whose pools just changed. When
// the queue is full the entry is left to expire with its TTL.
func (c *Odds) Publish(_ context.Context, ev model.Event) {
	if ev.RoundID == nil {
		return
	}
	switch ev.Type {
	case model.EvRoundSeeded, model.EvBetPlaced, model.EvRoundLocked:
	default:
		return
	}
	select {
	case c.stale <- *ev.RoundID:
	default:
		c.log.Warn("invalidation queue full, dropping", zap.Int64("round", *ev.RoundID))
	}
}

// Run deletes queued rounds until ctx is done.
func (c *Odds) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.stale:
			c.invalidate(ctx, id)
		}
	}
}

func (c *Odds) invalidate(ctx context.Context, roundID int64) {
	dctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if err := c.r.Del(dctx, oddsKey(roundID)).Err(); err != nil {
		c.log.Warn("cache invalidate", zap.Int64("round", roundID), zap.Error(err))
	}
}
