package oracle

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// Resolver accepts oracle answers. *engine.Engine implements it.
type Resolver interface {
	OnOutcomesReady(ctx context.Context, requestID string, results []model.Outcome) error
}

// Simulator resolves every match uniformly at random after a delay. It is a
// development stand-in for a results provider.
type Simulator struct {
	delay time.Duration
	log   *zap.Logger

	mu  sync.RWMutex
	res Resolver
}

func NewSimulator(delay time.Duration, log *zap.Logger) *Simulator {
	return &Simulator{delay: delay, log: log.Named("oracle_sim")}
}

// Bind sets the resolver. The engine needs its oracle at construction, so
// the two are wired in this order.
func (s *Simulator) Bind(r Resolver) {
	s.mu.Lock()
	s.res = r
	s.mu.Unlock()
}

func (s *Simulator) RequestOutcomes(ctx context.Context, req model.OracleRequest, matches []model.Match) error {
	results := make([]model.Outcome, len(matches))
	for i := range matches {
		o, err := randomOutcome()
		if err != nil {
			return err
		}
		results[i] = o
	}
	go s.deliver(req.ID, results)
	return nil
}

func (s *Simulator) deliver(requestID string, results []model.Outcome) {
	time.Sleep(s.delay)
	s.mu.RLock()
	r := s.res
	s.mu.RUnlock()
	if r == nil {
		s.log.Warn("no resolver bound", zap.String("request", requestID))
		return
	}
	if err := r.OnOutcomesReady(context.Background(), requestID, results); err != nil {
		s.log.Warn("simulated outcomes rejected", zap.String("request", requestID), zap.Error(err))
	}
}

var simOutcomes = []model.Outcome{model.OutcomeHome, model.OutcomeAway, model.OutcomeDraw}

func randomOutcome() (model.Outcome, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(simOutcomes))))
	if err != nil {
		return "", err
	}
	return simOutcomes[n.Int64()], nil
}
