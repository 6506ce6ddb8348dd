package engine

import (
	"fmt"
	"time"

	"parlay-pool/internal/model"
)

// Schedule selects the layer-one parlay multiplier table. A deployment uses
// exactly one.
type Schedule string

const (
	ScheduleLinear    Schedule = "linear"
	ScheduleCountTier Schedule = "count_tier"
)

// SweepPolicy decides who receives what is left of a swept payout after the
// bounty and late fee.
type SweepPolicy string

const (
	SweepToBettor   SweepPolicy = "bettor"
	SweepToProtocol SweepPolicy = "protocol"
)

// DecayBand keeps KeepBps of the bonus part of a multiplier once locked
// bonus liability reaches MinLiability.
type DecayBand struct {
	MinLiability int64 `yaml:"min_liability"`
	KeepBps      int64 `yaml:"keep_bps"`
}

// CountTier applies Multiplier to parlays whose round sequence number is at
// most UpTo. The last tier should have UpTo 0, meaning unbounded.
type CountTier struct {
	UpTo       int64            `yaml:"up_to"`
	Multiplier model.Multiplier `yaml:"multiplier_bps"`
}

type Params struct {
	MatchesPerRound int
	MaxLegs         int

	MinStake        int64
	MaxBetAmount    int64
	MaxPayoutPerBet int64
	MaxRoundPayouts int64

	SeedSafetyFactor  int64
	VirtualLiquidityK int64
	WinnerShareBps    int64
	StakeBonusBps     int64

	ProtocolShareBps int64
	CapitalShareBps  int64
	SeasonShareBps   int64

	Schedule              Schedule
	CountTiers            []CountTier
	ImbalanceThresholdBps int64
	ImbalanceFloor        model.Multiplier
	DecayBands            []DecayBand

	ClaimWindow    time.Duration
	GracePeriod    time.Duration
	SweepBountyBps int64
	LateFeeBps     int64
	SweepPolicy    SweepPolicy

	OracleTimeout  time.Duration
	OracleCooldown time.Duration
}

func DefaultParams() Params {
	return Params{
		MatchesPerRound:   10,
		MaxLegs:           10,
		MinStake:          100,
		MaxBetAmount:      1_000_000,
		MaxPayoutPerBet:   10_000_000,
		MaxRoundPayouts:   100_000_000,
		SeedSafetyFactor:  3,
		VirtualLiquidityK: 60,
		WinnerShareBps:    5500,
		ProtocolShareBps:  4500,
		CapitalShareBps:   5300,
		SeasonShareBps:    200,
		Schedule:          ScheduleLinear,
		CountTiers: []CountTier{
			{UpTo: 10, Multiplier: 25000},
			{UpTo: 20, Multiplier: 22000},
			{UpTo: 30, Multiplier: 19000},
			{UpTo: 40, Multiplier: 16000},
			{UpTo: 0, Multiplier: 13000},
		},
		ImbalanceThresholdBps: 4000,
		ImbalanceFloor:        11000,
		DecayBands: []DecayBand{
			{MinLiability: 0, KeepBps: 10000},
			{MinLiability: 1_000_000, KeepBps: 8800},
			{MinLiability: 2_500_000, KeepBps: 7600},
			{MinLiability: 5_000_000, KeepBps: 6400},
		},
		ClaimWindow:    24 * time.Hour,
		GracePeriod:    24 * time.Hour,
		SweepBountyBps: 1000,
		LateFeeBps:     1500,
		SweepPolicy:    SweepToBettor,
		OracleTimeout:  time.Hour,
		OracleCooldown: 5 * time.Minute,
	}
}

// Validate rejects parameter sets that would break solvency math.
func (p Params) Validate() error {
	switch {
	case p.MatchesPerRound < 1:
		return fmt.Errorf("matches_per_round must be >= 1")
	case p.MaxLegs < 1 || p.MaxLegs > p.MatchesPerRound:
		return fmt.Errorf("max_legs must be in [1, matches_per_round]")
	case p.MinStake < 1 || p.MaxBetAmount < p.MinStake:
		return fmt.Errorf("need 1 <= min_stake <= max_bet_amount")
	case p.MaxPayoutPerBet < p.MaxBetAmount:
		return fmt.Errorf("max_payout_per_bet below max_bet_amount")
	case p.SeedSafetyFactor < 1:
		return fmt.Errorf("seed_safety_factor must be >= 1")
	case p.WinnerShareBps < 0 || p.WinnerShareBps > 10000:
		return fmt.Errorf("winner_share_bps out of range")
	case p.ProtocolShareBps+p.CapitalShareBps+p.SeasonShareBps != 10000:
		return fmt.Errorf("revenue shares must sum to 10000 bps")
	case p.SweepBountyBps+p.LateFeeBps > 10000:
		return fmt.Errorf("sweep bounty and late fee exceed the payout")
	case p.ImbalanceFloor < model.OneX:
		return fmt.Errorf("imbalance floor below 1.00x")
	}
	switch p.Schedule {
	case ScheduleLinear:
	case ScheduleCountTier:
		if len(p.CountTiers) == 0 {
			return fmt.Errorf("count_tier schedule needs tiers")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSchedule, p.Schedule)
	}
	switch p.SweepPolicy {
	case SweepToBettor, SweepToProtocol:
	default:
		return fmt.Errorf("unknown sweep policy %q", p.SweepPolicy)
	}
	for i := 1; i < len(p.DecayBands); i++ {
		if p.DecayBands[i].MinLiability <= p.DecayBands[i-1].MinLiability {
			return fmt.Errorf("decay bands must be ascending")
		}
	}
	return nil
}
