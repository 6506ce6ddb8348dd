package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// RequestOutcomes records a pending oracle request for a locked round and
// starts the lookup after the request is committed. A round may be
// re-requested once OracleCooldown has passed since its newest request.
func (e *Engine) RequestOutcomes(ctx context.Context, roundID int64) (*model.OracleRequest, error) {
	var (
		out     *model.OracleRequest
		matches []model.Match
	)
	err := e.do(ctx, "request_outcomes", func(t *txn) error {
		r, err := t.round(roundID)
		if err != nil {
			return err
		}
		if r.Status != model.RoundLocked {
			return ErrNotLocked
		}
		reqs := t.roundRequests(roundID)
		if n := len(reqs); n > 0 {
			newest := reqs[n-1]
			if newest.Pending && t.now.Sub(newest.RequestedAt) < e.p.OracleCooldown {
				return fmt.Errorf("%w: retry after %s", ErrOracleCooldown, newest.RequestedAt.Add(e.p.OracleCooldown).Format(time.RFC3339))
			}
		}
		req := &model.OracleRequest{ID: uuid.NewString(), RoundID: roundID, RequestedAt: t.now, Pending: true}
		t.requests[req.ID] = req
		t.emit(model.EvOutcomesRequest, roundID, map[string]any{"request_id": req.ID, "attempt": len(reqs) + 1})
		out = &model.OracleRequest{}
		*out = *req
		matches = append([]model.Match(nil), r.Matches...)
		if e.oracle != nil {
			snapshot := *req
			t.after = append(t.after, func() { go e.callOracle(snapshot, matches) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("outcomes requested", zap.Int64("round", roundID), zap.String("request", out.ID))
	return out, nil
}

func (e *Engine) callOracle(req model.OracleRequest, matches []model.Match) {
	ctx, cancel := context.WithTimeout(context.Background(), e.p.OracleCooldown)
	defer cancel()
	if err := e.oracle.RequestOutcomes(ctx, req, matches); err != nil {
		e.log.Warn("oracle request failed", zap.Int64("round", req.RoundID), zap.String("request", req.ID), zap.Error(err))
	}
}

// OnOutcomesReady is the oracle callback. Any pending request of the round
// is accepted; the first one to arrive resolves every match and retires the
// round's other requests.
func (e *Engine) OnOutcomesReady(ctx context.Context, requestID string, results []model.Outcome) error {
	var roundID int64
	err := e.do(ctx, "outcomes_ready", func(t *txn) error {
		req := t.request(requestID)
		if req == nil || !req.Pending {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
		}
		r, err := t.round(req.RoundID)
		if err != nil {
			return err
		}
		if r.Status != model.RoundLocked {
			return ErrNotLocked
		}
		if err := e.resolveAll(t, r, results, "oracle"); err != nil {
			return err
		}
		retireRequests(t, r.ID, requestID)
		roundID = r.ID
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("outcomes received", zap.Int64("round", roundID), zap.String("request", requestID))
	return nil
}

// ManualSettle is the operator fallback when the oracle never answers. It is
// allowed once the round's oldest unanswered request has waited longer than
// OracleTimeout.
func (e *Engine) ManualSettle(ctx context.Context, roundID int64, results []model.Outcome) error {
	err := e.do(ctx, "manual_settle", func(t *txn) error {
		r, err := t.round(roundID)
		if err != nil {
			return err
		}
		if r.Status != model.RoundLocked {
			return ErrNotLocked
		}
		var oldest *model.OracleRequest
		for _, req := range t.roundRequests(roundID) {
			if req.Pending {
				oldest = req
				break
			}
		}
		if oldest == nil {
			return fmt.Errorf("%w: no outcome request pending", ErrOracleTimeout)
		}
		if wait := t.now.Sub(oldest.RequestedAt); wait < e.p.OracleTimeout {
			return fmt.Errorf("%w: waited %s of %s", ErrOracleTimeout, wait.Round(time.Second), e.p.OracleTimeout)
		}
		if err := e.resolveAll(t, r, results, "manual"); err != nil {
			return err
		}
		retireRequests(t, roundID, "")
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Warn("round settled manually", zap.Int64("round", roundID))
	return nil
}

// retireRequests closes every pending request of a round, marking fulfilled
// the one that delivered results.
func retireRequests(t *txn, roundID int64, fulfilled string) {
	for _, req := range t.roundRequests(roundID) {
		if !req.Pending {
			continue
		}
		req.Pending = false
		if req.ID == fulfilled {
			now := t.now
			req.FulfilledAt = &now
		}
	}
}

// OverdueRounds lists locked rounds whose newest request is still pending
// after the cooldown, i.e. rounds that should be re-requested.
func (e *Engine) OverdueRounds(now time.Time) []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	newest := make(map[int64]*model.OracleRequest)
	for _, req := range e.requests {
		if cur, ok := newest[req.RoundID]; !ok || req.RequestedAt.After(cur.RequestedAt) {
			newest[req.RoundID] = req
		}
	}
	var out []int64
	for id, req := range newest {
		r := e.rounds[id]
		if r == nil || r.Status != model.RoundLocked || !req.Pending {
			continue
		}
		if now.Sub(req.RequestedAt) >= e.p.OracleCooldown {
			out = append(out, id)
		}
	}
	return out
}
