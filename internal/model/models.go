package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser     Role = "USER"
	RoleOperator Role = "OPERATOR"
)

type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeHome    Outcome = "HOME"
	OutcomeAway    Outcome = "AWAY"
	OutcomeDraw    Outcome = "DRAW"
	OutcomeVoid    Outcome = "VOID"
)

// Pickable reports whether a bettor may pick o.
func (o Outcome) Pickable() bool {
	return o == OutcomeHome || o == OutcomeAway || o == OutcomeDraw
}

// Final reports whether o is a valid oracle result.
func (o Outcome) Final() bool {
	return o.Pickable() || o == OutcomeVoid
}

type RoundStatus string

const (
	RoundCreated     RoundStatus = "CREATED"
	RoundOpen        RoundStatus = "OPEN" // seeded, betting open
	RoundLocked      RoundStatus = "LOCKED"
	RoundSettled     RoundStatus = "SETTLED"
	RoundDistributed RoundStatus = "DISTRIBUTED"
)

type BetStatus string

const (
	BetPlaced   BetStatus = "PLACED"
	BetWon      BetStatus = "WON"
	BetLost     BetStatus = "LOST"
	BetRefunded BetStatus = "REFUNDED"
	BetClaimed  BetStatus = "CLAIMED"
	BetSwept    BetStatus = "SWEPT"
)

type FundingSource string

const (
	SourceReserve FundingSource = "RESERVE"
	SourceCapital FundingSource = "CAPITAL"
)

// ── Multiplier ───────────────────────────────────────

// Multiplier is a payout multiplier in basis points (10000 = 1.00x).
type Multiplier int64

const OneX Multiplier = 10000

func (m Multiplier) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -4)
}

func (m Multiplier) String() string {
	return m.Decimal().StringFixed(4) + "x"
}

// ── Rounds ───────────────────────────────────────────

type Match struct {
	Index      int        `json:"index"`
	HomeTeam   string     `json:"home_team"`
	AwayTeam   string     `json:"away_team"`
	Outcome    Outcome    `json:"outcome"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// MatchPool holds the per-outcome pools of one match in one round.
// Pools only grow until settlement.
type MatchPool struct {
	Home int64 `json:"home"`
	Away int64 `json:"away"`
	Draw int64 `json:"draw"`
	Seed int64 `json:"seed"`
}

func (p MatchPool) Total() int64 { return p.Home + p.Away + p.Draw }

func (p MatchPool) Of(o Outcome) int64 {
	switch o {
	case OutcomeHome:
		return p.Home
	case OutcomeAway:
		return p.Away
	case OutcomeDraw:
		return p.Draw
	}
	return 0
}

func (p *MatchPool) Add(o Outcome, amount int64) {
	switch o {
	case OutcomeHome:
		p.Home += amount
	case OutcomeAway:
		p.Away += amount
	case OutcomeDraw:
		p.Draw += amount
	}
}

// MatchSeed is the protocol-funded opening liquidity of one match.
type MatchSeed struct {
	Home int64 `json:"home"`
	Away int64 `json:"away"`
	Draw int64 `json:"draw"`
}

func (s MatchSeed) Total() int64 { return s.Home + s.Away + s.Draw }

// EvenSeed splits perMatch into thirds; the remainder lands on the draw pool.
func EvenSeed(perMatch int64) MatchSeed {
	third := perMatch / 3
	return MatchSeed{Home: third, Away: third, Draw: perMatch - 2*third}
}

type Round struct {
	ID                      int64         `json:"id"`
	Status                  RoundStatus   `json:"status"`
	Matches                 []Match       `json:"matches"`
	Pools                   []MatchPool   `json:"pools"`
	ProtocolSeedAmount      int64         `json:"protocol_seed_amount"`
	SeedSource              FundingSource `json:"seed_source,omitempty"`
	StakeBonusTotal         int64         `json:"stake_bonus_total"`
	ParlayCount             int64         `json:"parlay_count"`
	TotalLosingPool         int64         `json:"total_losing_pool"`
	TotalReservedForWinners int64         `json:"total_reserved_for_winners"`
	TotalPaidOut            int64         `json:"total_paid_out"`
	NetRevenue              int64         `json:"net_revenue"`
	CreatedAt               time.Time     `json:"created_at"`
	LockedAt                *time.Time    `json:"locked_at,omitempty"`
	SettledAt               *time.Time    `json:"settled_at,omitempty"`
	DistributedAt           *time.Time    `json:"distributed_at,omitempty"`
}

func (r *Round) Seeded() bool             { return r.Status != RoundCreated }
func (r *Round) Settled() bool            { return r.Status == RoundSettled || r.Status == RoundDistributed }
func (r *Round) RevenueDistributed() bool { return r.Status == RoundDistributed }

// Clone returns a deep copy so a command can stage changes before commit.
func (r *Round) Clone() *Round {
	c := *r
	c.Matches = append([]Match(nil), r.Matches...)
	c.Pools = append([]MatchPool(nil), r.Pools...)
	return &c
}

// ── Bets ─────────────────────────────────────────────

type Prediction struct {
	MatchIndex int     `json:"match_index"`
	Pick       Outcome `json:"pick"`
	LegStake   int64   `json:"leg_stake"`
	LegBonus   int64   `json:"leg_bonus,omitempty"`
}

type Bet struct {
	ID               string        `json:"id"`
	Bettor           string        `json:"bettor"`
	RoundID          int64         `json:"round_id"`
	Stake            int64         `json:"stake"`
	StakeBonus       int64         `json:"stake_bonus"`
	Predictions      []Prediction  `json:"predictions"`
	LockedMultiplier Multiplier    `json:"locked_multiplier"`
	ReservedBonus    int64         `json:"reserved_bonus"`
	BonusSource      FundingSource `json:"bonus_source"`
	ParlaySeq        int64         `json:"parlay_seq,omitempty"`
	Status           BetStatus     `json:"status"`
	Settled          bool          `json:"settled"`
	Won              bool          `json:"won"`
	Claimed          bool          `json:"claimed"`
	BasePayout       int64         `json:"base_payout"`
	FinalPayout      int64         `json:"final_payout"`
	PaidOut          int64         `json:"paid_out"`
	SweptBy          string        `json:"swept_by,omitempty"`
	PlacedAt         time.Time     `json:"placed_at"`
	ClaimedAt        *time.Time    `json:"claimed_at,omitempty"`
}

func (b *Bet) Legs() int { return len(b.Predictions) }

// BonusOwed is the part of FinalPayout funded by the bonus reservation.
func (b *Bet) BonusOwed() int64 {
	if b.FinalPayout > b.BasePayout {
		return b.FinalPayout - b.BasePayout
	}
	return 0
}

// PoolPayout is the part of FinalPayout drawn from the round's pools.
func (b *Bet) PoolPayout() int64 {
	if b.FinalPayout < b.BasePayout {
		return b.FinalPayout
	}
	return b.BasePayout
}

// Claimable reports whether the bet is settled with an unpaid payout.
func (b *Bet) Claimable() bool {
	return (b.Status == BetWon || b.Status == BetRefunded) && !b.Claimed
}

func (b *Bet) Clone() *Bet {
	c := *b
	c.Predictions = append([]Prediction(nil), b.Predictions...)
	return &c
}

// ── Reserve ──────────────────────────────────────────

type ReserveState struct {
	Balance      int64 `json:"reserve_balance"`
	LockedBonus  int64 `json:"locked_bonus_liability"`
	SeasonPool   int64 `json:"season_pool"`
	TotalFunded  int64 `json:"total_funded"`
	TotalSeeded  int64 `json:"total_seeded"`
	TotalBonuses int64 `json:"total_bonuses_paid"`
}

// ── Oracle ───────────────────────────────────────────

type OracleRequest struct {
	ID          string     `json:"id"`
	RoundID     int64      `json:"round_id"`
	RequestedAt time.Time  `json:"requested_at"`
	Pending     bool       `json:"pending"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

// ── Users / Wallets ──────────────────────────────────

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrEmailTaken is returned by account stores for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

type Wallet struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// HouseAccount is the custody wallet holding staked and reserve tokens.
const HouseAccount = "house"

// CapitalAccount is the wallet backing the external capital source.
const CapitalAccount = "capital"

// ── Event Log ────────────────────────────────────────

const (
	EvRoundCreated     = "RoundCreated"
	EvRoundSeeded      = "RoundSeeded"
	EvRoundLocked      = "RoundLocked"
	EvReserveFunded    = "ReserveFunded"
	EvBetPlaced        = "BetPlaced"
	EvOutcomesRequest  = "OutcomesRequested"
	EvMatchResolved    = "MatchResolved"
	EvRoundSettled     = "RoundSettled"
	EvWinningsClaimed  = "WinningsClaimed"
	EvBetSwept         = "BetSwept"
	EvRevenueFinalized = "RoundRevenueFinalized"
)

type Event struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	RoundID   *int64    `json:"round_id,omitempty"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomKey is the pub/sub key for events of one round.
func RoomKey(roundID int64) string { return fmt.Sprintf("round:%d", roundID) }

// ── API Types ────────────────────────────────────────

type PlaceBetReq struct {
	Predictions []Prediction `json:"predictions"`
	Stake       int64        `json:"stake"`
}

type Odds struct {
	MatchIndex int             `json:"match_index"`
	Home       decimal.Decimal `json:"home"`
	Away       decimal.Decimal `json:"away"`
	Draw       decimal.Decimal `json:"draw"`
}

type Payout struct {
	BetID       string    `json:"bet_id"`
	Status      BetStatus `json:"status"`
	Won         bool      `json:"won"`
	BasePayout  int64     `json:"base_payout"`
	FinalPayout int64     `json:"final_payout"`
	Multiplier  string    `json:"multiplier"`
}
