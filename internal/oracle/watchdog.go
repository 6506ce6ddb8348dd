package oracle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
)

// Requester is the part of the engine the watchdog drives.
type Requester interface {
	OverdueRounds(now time.Time) []int64
	RequestOutcomes(ctx context.Context, roundID int64) (*model.OracleRequest, error)
}

// Watchdog re-issues outcome requests that went unanswered past the
// cooldown.
type Watchdog struct {
	eng      Requester
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewWatchdog(eng Requester, interval time.Duration, log *zap.Logger) *Watchdog {
	return &Watchdog{eng: eng, interval: interval, now: time.Now, log: log.Named("oracle_watchdog")}
}

func (w *Watchdog) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep and returns how many requests it re-issued.
func (w *Watchdog) Tick(ctx context.Context) int {
	n := 0
	for _, id := range w.eng.OverdueRounds(w.now()) {
		req, err := w.eng.RequestOutcomes(ctx, id)
		switch {
		case err == nil:
			n++
			w.log.Warn("outcome request re-issued", zap.Int64("round", id), zap.String("request", req.ID))
		case errors.Is(err, engine.ErrOracleCooldown), errors.Is(err, engine.ErrNotLocked):
			// Raced with another request or a settlement.
		default:
			w.log.Error("re-issue outcome request", zap.Int64("round", id), zap.Error(err))
		}
	}
	return n
}
