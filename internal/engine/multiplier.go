package engine

import (
	"parlay-pool/internal/model"
)

// MultiplierInput is everything the parlay multiplier depends on. It is
// captured once at placement; nothing at settlement feeds back into it.
type MultiplierInput struct {
	Legs int
	// ParlaySeq is the 1-based position of this parlay among the round's
	// parlays, used by the count_tier schedule.
	ParlaySeq int64
	// ImbalanceBps is the average leg imbalance before this bet's stake.
	ImbalanceBps int64
	// LockedLiability is the reserve's locked bonus liability before this bet.
	LockedLiability int64
}

// ComputeMultiplier applies the schedule, the imbalance gate and the reserve
// decay, in that order. Single-leg bets always get 1.00x.
func ComputeMultiplier(p Params, in MultiplierInput) model.Multiplier {
	if in.Legs <= 1 {
		return model.OneX
	}
	m := scheduleMultiplier(p, in.Legs, in.ParlaySeq)

	if p.ImbalanceThresholdBps > 0 && in.ImbalanceBps < p.ImbalanceThresholdBps && m > p.ImbalanceFloor {
		m = p.ImbalanceFloor
	}

	keep := decayKeepBps(p.DecayBands, in.LockedLiability)
	m = model.OneX + (m-model.OneX)*model.Multiplier(keep)/10000
	if m < model.OneX {
		m = model.OneX
	}
	return m
}

func scheduleMultiplier(p Params, legs int, seq int64) model.Multiplier {
	switch p.Schedule {
	case ScheduleCountTier:
		for _, t := range p.CountTiers {
			if t.UpTo == 0 || seq <= t.UpTo {
				return t.Multiplier
			}
		}
		return p.CountTiers[len(p.CountTiers)-1].Multiplier
	default:
		// 1.15x at two legs rising by 0.35/8 per extra leg, floored to bps.
		return 11500 + model.Multiplier(legs-2)*3500/8
	}
}

func decayKeepBps(bands []DecayBand, liability int64) int64 {
	keep := int64(10000)
	for _, b := range bands {
		if liability >= b.MinLiability {
			keep = b.KeepBps
		}
	}
	return keep
}

// imbalanceBps is (max - min) / total of one match's pools, in bps.
func imbalanceBps(pool model.MatchPool) int64 {
	total := pool.Total()
	if total == 0 {
		return 0
	}
	hi, lo := pool.Home, pool.Home
	for _, v := range []int64{pool.Away, pool.Draw} {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	return (hi - lo) * 10000 / total
}

func averageImbalanceBps(r *model.Round, preds []model.Prediction) int64 {
	if len(preds) == 0 {
		return 0
	}
	var sum int64
	for _, pr := range preds {
		sum += imbalanceBps(r.Pools[pr.MatchIndex])
	}
	return sum / int64(len(preds))
}
