package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// ── Collaborators ────────────────────────────────────

// Store persists engine state. Every command runs inside exactly one Tx.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Load(ctx context.Context) (*Snapshot, error)
}

// Tx stages writes and token movements; nothing is visible until Commit.
// TransferIn moves tokens from an account into house custody, TransferOut
// moves them from custody to an account. Either failing aborts the command.
type Tx interface {
	SaveRound(r *model.Round) error
	SaveBet(b *model.Bet) error
	SaveReserve(st model.ReserveState) error
	SaveOracleRequest(req *model.OracleRequest) error
	AppendEvent(ev model.Event) error
	TransferIn(from string, amount int64) error
	TransferOut(to string, amount int64) error
	Commit() error
	Rollback() error
}

type Snapshot struct {
	Rounds   []model.Round
	Bets     []model.Bet
	Reserve  model.ReserveState
	Requests []model.OracleRequest
	LastSeq  int64
}

// Publisher receives committed events, in commit order.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Oracle starts an asynchronous outcome lookup. Results come back through
// Engine.OnOutcomesReady, possibly never.
type Oracle interface {
	RequestOutcomes(ctx context.Context, req model.OracleRequest, matches []model.Match) error
}

// CapitalSource is an optional external liquidity pool. The engine falls back
// to the protocol reserve whenever it is absent or declines. The Can methods
// are asked inside a command; everything else runs only after the command
// has committed.
type CapitalSource interface {
	CanCoverPayout(amount int64) bool
	CanFundSeeding(roundID int64, amount int64) bool
	FundSeeding(roundID int64, amount int64) bool
	ReserveBonus(amount int64)
	ReleaseBonus(amount int64)
	PayWinner(to string, amount int64) error
	CollectLosingBet(amount int64)
}

// ── Engine ───────────────────────────────────────────

// Engine owns all pool, bet and reserve state. Mutations run one at a time on
// the command goroutine; readers see only committed state.
type Engine struct {
	p       Params
	store   Store
	pub     Publisher
	oracle  Oracle
	capital CapitalSource
	log     *zap.Logger
	now     func() time.Time

	cmdCh chan command

	mu        sync.RWMutex
	rounds    map[int64]*model.Round
	bets      map[string]*model.Bet
	roundBets map[int64][]string
	requests  map[string]*model.OracleRequest
	reserve   *ReserveManager
	seq       int64
	lastRound int64
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }
func WithOracle(o Oracle) Option { return func(e *Engine) { e.oracle = o } }
func WithCapital(c CapitalSource) Option { return func(e *Engine) { e.capital = c } }
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New loads committed state from store. Call Run to start processing.
func New(ctx context.Context, store Store, p Params, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	e := &Engine{
		p:         p,
		store:     store,
		log:       zap.NewNop(),
		now:       time.Now,
		cmdCh:     make(chan command, 64),
		rounds:    make(map[int64]*model.Round),
		bets:      make(map[string]*model.Bet),
		roundBets: make(map[int64][]string),
		requests:  make(map[string]*model.OracleRequest),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.Named("engine")

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	for i := range snap.Rounds {
		r := snap.Rounds[i]
		e.rounds[r.ID] = &r
		if r.ID > e.lastRound {
			e.lastRound = r.ID
		}
	}
	slices.SortFunc(snap.Bets, func(a, b model.Bet) int { return a.PlacedAt.Compare(b.PlacedAt) })
	for i := range snap.Bets {
		b := snap.Bets[i]
		e.bets[b.ID] = &b
		e.roundBets[b.RoundID] = append(e.roundBets[b.RoundID], b.ID)
	}
	for i := range snap.Requests {
		req := snap.Requests[i]
		e.requests[req.ID] = &req
	}
	e.reserve = NewReserveManager(snap.Reserve)
	e.seq = snap.LastSeq
	if e.capital != nil {
		e.capital.ReserveBonus(capitalOutstanding(snap.Bets))
	}
	e.log.Info("state loaded",
		zap.Int("rounds", len(e.rounds)),
		zap.Int("bets", len(e.bets)),
		zap.Int64("reserve", snap.Reserve.Balance),
		zap.Int64("seq", e.seq))
	return e, nil
}

// Run processes commands until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
}

func (e *Engine) Params() Params { return e.p }

// ── Commands ─────────────────────────────────────────

type command interface{ exec(e *Engine) }

type call struct {
	ctx context.Context
	op  string
	fn  func(t *txn) error
	ch  chan<- error
}

func (c call) exec(e *Engine) {
	t := e.begin()
	if err := c.fn(t); err != nil {
		e.log.Debug("rejected", zap.String("op", c.op), zap.Error(err))
		c.ch <- err
		return
	}
	c.ch <- t.commit(c.ctx, c.op)
}

// do queues fn on the command goroutine and waits for it to commit.
func (e *Engine) do(ctx context.Context, op string, fn func(t *txn) error) error {
	ch := make(chan error, 1)
	c := call{ctx: context.WithoutCancel(ctx), op: op, fn: fn, ch: ch}
	select {
	case e.cmdCh <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Staged transaction ───────────────────────────────

type transfer struct {
	in      bool
	account string
	amount  int64
}

// txn stages copies of everything a command touches. Live state is replaced
// only after the store commits.
type txn struct {
	e         *Engine
	now       time.Time
	rounds    map[int64]*model.Round
	bets      map[string]*model.Bet
	newBets   []string
	requests  map[string]*model.OracleRequest
	reserve   *ReserveManager
	touched   bool
	transfers []transfer
	events    []model.Event
	seq       int64
	lastRound int64
	after     []func()
}

func (e *Engine) begin() *txn {
	return &txn{
		e:         e,
		now:       e.now(),
		rounds:    make(map[int64]*model.Round),
		bets:      make(map[string]*model.Bet),
		requests:  make(map[string]*model.OracleRequest),
		seq:       e.seq,
		lastRound: e.lastRound,
	}
}

func (t *txn) round(id int64) (*model.Round, error) {
	if r, ok := t.rounds[id]; ok {
		return r, nil
	}
	r, ok := t.e.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	c := r.Clone()
	t.rounds[id] = c
	return c, nil
}

func (t *txn) bet(id string) (*model.Bet, error) {
	if b, ok := t.bets[id]; ok {
		return b, nil
	}
	b, ok := t.e.bets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	c := b.Clone()
	t.bets[id] = c
	return c, nil
}

func (t *txn) addBet(b *model.Bet) {
	t.bets[b.ID] = b
	t.newBets = append(t.newBets, b.ID)
}

func (t *txn) request(id string) *model.OracleRequest {
	if req, ok := t.requests[id]; ok {
		return req
	}
	req, ok := t.e.requests[id]
	if !ok {
		return nil
	}
	c := *req
	t.requests[id] = &c
	return &c
}

// roundRequests returns staged copies of every oracle request of a round,
// oldest first.
func (t *txn) roundRequests(roundID int64) []*model.OracleRequest {
	var out []*model.OracleRequest
	for id, req := range t.e.requests {
		if req.RoundID == roundID {
			out = append(out, t.request(id))
		}
	}
	for id, req := range t.requests {
		if req.RoundID == roundID {
			if _, live := t.e.requests[id]; !live {
				out = append(out, req)
			}
		}
	}
	slices.SortFunc(out, func(a, b *model.OracleRequest) int { return a.RequestedAt.Compare(b.RequestedAt) })
	return out
}

func (t *txn) res() *ReserveManager {
	if t.reserve == nil {
		t.reserve = t.e.reserve.clone()
	}
	t.touched = true
	return t.reserve
}

func (t *txn) transferIn(from string, amount int64) {
	if amount > 0 {
		t.transfers = append(t.transfers, transfer{in: true, account: from, amount: amount})
	}
}

func (t *txn) transferOut(to string, amount int64) {
	if amount > 0 {
		t.transfers = append(t.transfers, transfer{account: to, amount: amount})
	}
}

// emit stages an event. roundID 0 marks a process-wide event.
func (t *txn) emit(typ string, roundID int64, payload any) {
	t.seq++
	ev := model.Event{Seq: t.seq, Type: typ, Payload: payload, CreatedAt: t.now}
	if roundID != 0 {
		rid := roundID
		ev.RoundID = &rid
	}
	t.events = append(t.events, ev)
}

func (t *txn) commit(ctx context.Context, op string) error {
	e := t.e
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	for _, id := range slices.Sorted(maps.Keys(t.rounds)) {
		if err := tx.SaveRound(t.rounds[id]); err != nil {
			return fmt.Errorf("%s: save round: %w", op, err)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(t.bets)) {
		if err := tx.SaveBet(t.bets[id]); err != nil {
			return fmt.Errorf("%s: save bet: %w", op, err)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(t.requests)) {
		if err := tx.SaveOracleRequest(t.requests[id]); err != nil {
			return fmt.Errorf("%s: save oracle request: %w", op, err)
		}
	}
	if t.touched {
		if err := tx.SaveReserve(t.reserve.State()); err != nil {
			return fmt.Errorf("%s: save reserve: %w", op, err)
		}
	}
	for _, tr := range t.transfers {
		if tr.in {
			err = tx.TransferIn(tr.account, tr.amount)
		} else {
			err = tx.TransferOut(tr.account, tr.amount)
		}
		if err != nil {
			return fmt.Errorf("%s: transfer %s %d: %w", op, tr.account, tr.amount, err)
		}
	}
	for _, ev := range t.events {
		if err := tx.AppendEvent(ev); err != nil {
			return fmt.Errorf("%s: append event: %w", op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	e.mu.Lock()
	for id, r := range t.rounds {
		e.rounds[id] = r
	}
	for _, id := range t.newBets {
		b := t.bets[id]
		e.roundBets[b.RoundID] = append(e.roundBets[b.RoundID], id)
	}
	for id, b := range t.bets {
		e.bets[id] = b
	}
	for id, req := range t.requests {
		e.requests[id] = req
	}
	if t.touched {
		e.reserve = t.reserve
	}
	e.seq = t.seq
	e.lastRound = t.lastRound
	e.mu.Unlock()

	if e.pub != nil {
		for _, ev := range t.events {
			e.pub.Publish(ctx, ev)
		}
	}
	for _, f := range t.after {
		f()
	}
	return nil
}

// capitalOutstanding sums the capital-backed bonus still owed: the full
// reservation of open bets and the unpaid bonus of settled winners.
func capitalOutstanding(bets []model.Bet) int64 {
	var total int64
	for i := range bets {
		b := &bets[i]
		switch {
		case b.BonusSource != model.SourceCapital || b.Claimed:
		case !b.Settled:
			total += b.ReservedBonus
		case b.Won:
			total += b.BonusOwed()
		}
	}
	return total
}

// ── Reads ────────────────────────────────────────────

func (e *Engine) Round(id int64) (*model.Round, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	return r.Clone(), nil
}

// Rounds returns every round, newest first.
func (e *Engine) Rounds() []model.Round {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Round, 0, len(e.rounds))
	for _, r := range e.rounds {
		out = append(out, *r.Clone())
	}
	slices.SortFunc(out, func(a, b model.Round) int { return int(b.ID - a.ID) })
	return out
}

func (e *Engine) Bet(id string) (*model.Bet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.bets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	return b.Clone(), nil
}

func (e *Engine) RoundBets(roundID int64) []model.Bet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := e.roundBets[roundID]
	out := make([]model.Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.bets[id].Clone())
	}
	return out
}

func (e *Engine) BetsOf(bettor string) []model.Bet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []model.Bet
	for _, b := range e.bets {
		if b.Bettor == bettor {
			out = append(out, *b.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Bet) int { return b.PlacedAt.Compare(a.PlacedAt) })
	return out
}

func (e *Engine) Reserve() model.ReserveState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reserve.State()
}

// CurrentOdds returns the displayed odds of one match. It is a pure read.
func (e *Engine) CurrentOdds(roundID int64, matchIndex int) (model.Odds, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rounds[roundID]
	if !ok {
		return model.Odds{}, fmt.Errorf("%w: %d", ErrRoundNotFound, roundID)
	}
	return currentOdds(e.p, r, matchIndex)
}

// RoundOdds returns the displayed odds of every match in a round.
func (e *Engine) RoundOdds(roundID int64) ([]model.Odds, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rounds[roundID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, roundID)
	}
	out := make([]model.Odds, len(r.Pools))
	for i := range r.Pools {
		o, err := currentOdds(e.p, r, i)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

func (e *Engine) IsFullySettled(roundID int64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rounds[roundID]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrRoundNotFound, roundID)
	}
	return isFullySettled(r), nil
}

// CalculatePayout reports a bet's frozen result. Payouts are fixed when the
// round settles and never recomputed afterwards.
func (e *Engine) CalculatePayout(betID string) (model.Payout, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.bets[betID]
	if !ok {
		return model.Payout{}, fmt.Errorf("%w: %s", ErrBetNotFound, betID)
	}
	if !b.Settled {
		return model.Payout{}, ErrNotSettled
	}
	return model.Payout{
		BetID:       b.ID,
		Status:      b.Status,
		Won:         b.Won,
		BasePayout:  b.BasePayout,
		FinalPayout: b.FinalPayout,
		Multiplier:  b.LockedMultiplier.String(),
	}, nil
}

// PendingRequests returns unanswered oracle requests, oldest first.
func (e *Engine) PendingRequests() []model.OracleRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []model.OracleRequest
	for _, req := range e.requests {
		if req.Pending {
			out = append(out, *req)
		}
	}
	slices.SortFunc(out, func(a, b model.OracleRequest) int { return a.RequestedAt.Compare(b.RequestedAt) })
	return out
}
