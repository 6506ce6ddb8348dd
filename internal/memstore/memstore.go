// Package memstore keeps engine state, users and wallets in memory. It backs
// local development and tests; nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
)

type Store struct {
	mu       sync.Mutex
	rounds   map[int64]model.Round
	bets     map[string]model.Bet
	requests map[string]model.OracleRequest
	reserve  model.ReserveState
	events   []model.Event
	users    map[string]model.User
	wallets  map[string]int64
}

func New() *Store {
	s := &Store{
		rounds:   make(map[int64]model.Round),
		bets:     make(map[string]model.Bet),
		requests: make(map[string]model.OracleRequest),
		users:    make(map[string]model.User),
		wallets:  make(map[string]int64),
	}
	s.wallets[model.HouseAccount] = 0
	s.wallets[model.CapitalAccount] = 0
	return s
}

// ── engine.Store ─────────────────────────────────────

func (s *Store) Load(ctx context.Context) (*engine.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &engine.Snapshot{Reserve: s.reserve}
	for _, r := range s.rounds {
		snap.Rounds = append(snap.Rounds, *r.Clone())
	}
	for _, b := range s.bets {
		snap.Bets = append(snap.Bets, *b.Clone())
	}
	for _, req := range s.requests {
		snap.Requests = append(snap.Requests, req)
	}
	if n := len(s.events); n > 0 {
		snap.LastSeq = s.events[n-1].Seq
	}
	return snap, nil
}

func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	return &Tx{s: s, deltas: make(map[string]int64)}, nil
}

// Tx buffers every write until Commit, which applies them under one lock.
type Tx struct {
	s        *Store
	rounds   []model.Round
	bets     []model.Bet
	requests []model.OracleRequest
	reserve  *model.ReserveState
	events   []model.Event
	deltas   map[string]int64
	order    []string
	done     bool
}

func (t *Tx) SaveRound(r *model.Round) error {
	t.rounds = append(t.rounds, *r.Clone())
	return nil
}

func (t *Tx) SaveBet(b *model.Bet) error {
	t.bets = append(t.bets, *b.Clone())
	return nil
}

func (t *Tx) SaveReserve(st model.ReserveState) error {
	t.reserve = &st
	return nil
}

func (t *Tx) SaveOracleRequest(req *model.OracleRequest) error {
	t.requests = append(t.requests, *req)
	return nil
}

func (t *Tx) AppendEvent(ev model.Event) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *Tx) move(account string, delta int64) {
	if _, ok := t.deltas[account]; !ok {
		t.order = append(t.order, account)
	}
	t.deltas[account] += delta
}

// TransferIn checks the payer's balance including earlier staged transfers.
func (t *Tx) TransferIn(from string, amount int64) error {
	t.s.mu.Lock()
	bal, ok := t.s.wallets[from]
	t.s.mu.Unlock()
	if !ok {
		return fmt.Errorf("wallet %s not found", from)
	}
	if bal+t.deltas[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", engine.FundsError(from), from, bal+t.deltas[from], amount)
	}
	t.move(from, -amount)
	t.move(model.HouseAccount, amount)
	return nil
}

func (t *Tx) TransferOut(to string, amount int64) error {
	t.s.mu.Lock()
	_, ok := t.s.wallets[to]
	house := t.s.wallets[model.HouseAccount]
	t.s.mu.Unlock()
	if !ok {
		return fmt.Errorf("wallet %s not found", to)
	}
	if house+t.deltas[model.HouseAccount] < amount {
		return fmt.Errorf("%w: house has %d, needs %d", engine.ErrCustodyShortfall, house+t.deltas[model.HouseAccount], amount)
	}
	t.move(model.HouseAccount, -amount)
	t.move(to, amount)
	return nil
}

func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range t.rounds {
		s.rounds[r.ID] = r
	}
	for _, b := range t.bets {
		s.bets[b.ID] = b
	}
	for _, req := range t.requests {
		s.requests[req.ID] = req
	}
	if t.reserve != nil {
		s.reserve = *t.reserve
	}
	for _, acct := range t.order {
		s.wallets[acct] += t.deltas[acct]
	}
	s.events = append(s.events, t.events...)
	return nil
}

func (t *Tx) Rollback() error {
	t.done = true
	return nil
}

// ── Accounts ─────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return nil, fmt.Errorf("%w: %s", model.ErrEmailTaken, email)
		}
	}
	u := model.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, Role: role, CreatedAt: time.Now()}
	s.users[u.ID] = u
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b model.User) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *Store) CreateWallet(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[userID]; !ok {
		s.wallets[userID] = 0
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.wallets[userID]
	if !ok {
		return nil, nil
	}
	return &model.Wallet{UserID: userID, Balance: bal}, nil
}

func (s *Store) DepositWallet(ctx context.Context, userID string, amount int64) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", userID)
	}
	s.wallets[userID] = bal + amount
	return &model.Wallet{UserID: userID, Balance: bal + amount}, nil
}

// ListEvents returns the newest events first, optionally for one round.
func (s *Store) ListEvents(ctx context.Context, roundID *int64, limit int) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if roundID != nil && (ev.RoundID == nil || *ev.RoundID != *roundID) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
