package engine

import (
	"errors"

	"parlay-pool/internal/model"
)

// Kind classifies an engine failure so callers can decide how to react.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindCapacity      Kind = "capacity"
	KindState         Kind = "state"
	KindOracleTimeout Kind = "oracle_timeout"
	KindNotFound      Kind = "not_found"
	KindForbidden     Kind = "forbidden"
)

// Error is a classified, caller-visible rejection. Every Error is returned
// before any ledger is touched.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or "" for
// infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the stable code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	ErrEmptyLegs       = newErr(KindValidation, "empty_legs", "bet needs at least one prediction")
	ErrTooManyLegs     = newErr(KindValidation, "too_many_legs", "too many predictions")
	ErrDuplicateMatch  = newErr(KindValidation, "duplicate_match", "match referenced twice in one bet")
	ErrInvalidMatch    = newErr(KindValidation, "invalid_match", "match index out of range")
	ErrInvalidPick     = newErr(KindValidation, "invalid_pick", "pick must be HOME, AWAY or DRAW")
	ErrInvalidOutcome  = newErr(KindValidation, "invalid_outcome", "outcome must be HOME, AWAY, DRAW or VOID")
	ErrStakeTooLow     = newErr(KindValidation, "stake_too_low", "stake below minimum")
	ErrInvalidSeed     = newErr(KindValidation, "invalid_seed", "seed must cover every match with positive amounts")
	ErrInvalidMatches  = newErr(KindValidation, "invalid_matches", "wrong number of matches for a round")
	ErrInvalidAmount   = newErr(KindValidation, "invalid_amount", "amount must be positive")
	ErrInvalidResults  = newErr(KindValidation, "invalid_results", "results must cover every match")
	ErrInvalidSchedule = newErr(KindValidation, "invalid_schedule", "unknown multiplier schedule")

	// ErrInsufficientFunds is returned by token ledgers when a bettor's
	// wallet cannot cover a transfer.
	ErrInsufficientFunds = newErr(KindValidation, "insufficient_funds", "insufficient wallet balance")

	ErrMaxBetExceeded        = newErr(KindCapacity, "max_bet_exceeded", "stake exceeds maximum bet amount")
	ErrMaxPayoutExceeded     = newErr(KindCapacity, "max_payout_exceeded", "worst-case payout exceeds per-bet cap")
	ErrRoundPayoutCap        = newErr(KindCapacity, "round_payout_cap", "round payout cap reached")
	ErrCircuitBreakerTripped = newErr(KindCapacity, "circuit_breaker_tripped", "reserve below seeding safety threshold")
	ErrInsufficientReserve   = newErr(KindCapacity, "insufficient_reserve", "reserve cannot cover bonus liability")
	ErrCustodyShortfall      = newErr(KindCapacity, "custody_shortfall", "custody wallet cannot cover transfer")

	ErrBettingClosed      = newErr(KindState, "betting_closed", "round is not open for betting")
	ErrAlreadySeeded      = newErr(KindState, "already_seeded", "round already seeded")
	ErrNotOpen            = newErr(KindState, "not_open", "round is not open")
	ErrNotLocked          = newErr(KindState, "not_locked", "round is not locked")
	ErrAlreadyResolved    = newErr(KindState, "already_resolved", "match outcome already recorded")
	ErrNotSettled         = newErr(KindState, "not_settled", "round is not settled")
	ErrAlreadyDistributed = newErr(KindState, "already_distributed", "round revenue already finalized")
	ErrAlreadyClaimed     = newErr(KindState, "already_claimed", "bet already paid out")
	ErrBetLost            = newErr(KindState, "bet_lost", "bet did not win")
	ErrClaimWindowExpired = newErr(KindState, "claim_window_expired", "claim window expired, use sweep")
	ErrSweepTooEarly      = newErr(KindState, "sweep_too_early", "bet is still claimable by its bettor")
	ErrUnknownRequest     = newErr(KindState, "unknown_request", "no pending oracle request with that id")
	ErrOracleCooldown     = newErr(KindState, "oracle_cooldown", "outcome request issued too recently")

	ErrOracleTimeout = newErr(KindOracleTimeout, "oracle_timeout", "oracle has not timed out yet")

	ErrRoundNotFound = newErr(KindNotFound, "round_not_found", "round not found")
	ErrBetNotFound   = newErr(KindNotFound, "bet_not_found", "bet not found")

	ErrNotBettor = newErr(KindForbidden, "not_bettor", "only the bettor may claim")
)

// FundsError is the shortfall error for account. House and capital wallets
// are the operator's to top up, so their shortfalls are not the caller's
// fault.
func FundsError(account string) *Error {
	if account == model.HouseAccount || account == model.CapitalAccount {
		return ErrCustodyShortfall
	}
	return ErrInsufficientFunds
}
