package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.DB.Close() }

// ── engine.Store ─────────────────────────────────────

func (s *Store) Load(ctx context.Context) (*engine.Snapshot, error) {
	snap := &engine.Snapshot{}

	if err := loadJSON(ctx, s.DB, `SELECT data FROM rounds ORDER BY id`, func(raw []byte) error {
		var r model.Round
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		snap.Rounds = append(snap.Rounds, r)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}

	if err := loadJSON(ctx, s.DB, `SELECT data FROM bets`, func(raw []byte) error {
		var b model.Bet
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		snap.Bets = append(snap.Bets, b)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load bets: %w", err)
	}

	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT data FROM reserve WHERE id=1`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("load reserve: %w", err)
	default:
		if err := json.Unmarshal(raw, &snap.Reserve); err != nil {
			return nil, fmt.Errorf("decode reserve: %w", err)
		}
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, round_id, requested_at, pending, fulfilled_at FROM oracle_requests`)
	if err != nil {
		return nil, fmt.Errorf("load oracle requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var req model.OracleRequest
		if err := rows.Scan(&req.ID, &req.RoundID, &req.RequestedAt, &req.Pending, &req.FulfilledAt); err != nil {
			return nil, err
		}
		snap.Requests = append(snap.Requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM event_log`).Scan(&snap.LastSeq); err != nil {
		return nil, fmt.Errorf("load event seq: %w", err)
	}
	return snap, nil
}

func loadJSON(ctx context.Context, db *sql.DB, q string, fn func([]byte) error) error {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{ctx: ctx, tx: tx}, nil
}

// Tx is one engine command's database transaction.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *Tx) SaveRound(r *model.Round) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO rounds (id, status, data) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, data=EXCLUDED.data, updated_at=now()`,
		r.ID, r.Status, b)
	return err
}

func (t *Tx) SaveBet(b *model.Bet) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO bets (id, round_id, bettor, status, data) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, data=EXCLUDED.data, updated_at=now()`,
		b.ID, b.RoundID, b.Bettor, b.Status, raw)
	return err
}

func (t *Tx) SaveReserve(st model.ReserveState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO reserve (id, data) VALUES (1,$1)
		 ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`, b)
	return err
}

func (t *Tx) SaveOracleRequest(req *model.OracleRequest) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO oracle_requests (id, round_id, requested_at, pending, fulfilled_at) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET pending=EXCLUDED.pending, fulfilled_at=EXCLUDED.fulfilled_at`,
		req.ID, req.RoundID, req.RequestedAt, req.Pending, req.FulfilledAt)
	return err
}

func (t *Tx) AppendEvent(ev model.Event) error {
	b, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO event_log (seq, round_id, type, payload_json, created_at) VALUES ($1,$2,$3,$4,$5)`,
		ev.Seq, ev.RoundID, ev.Type, b, ev.CreatedAt)
	return err
}

// TransferIn moves amount from an account into house custody.
func (t *Tx) TransferIn(from string, amount int64) error {
	if err := t.debit(from, amount); err != nil {
		return err
	}
	return t.credit(model.HouseAccount, amount)
}

// TransferOut moves amount from house custody to an account.
func (t *Tx) TransferOut(to string, amount int64) error {
	if err := t.debit(model.HouseAccount, amount); err != nil {
		return err
	}
	return t.credit(to, amount)
}

func (t *Tx) debit(account string, amount int64) error {
	var bal int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT balance FROM wallets WHERE user_id=$1 FOR UPDATE`, account).Scan(&bal)
	if err == sql.ErrNoRows {
		return fmt.Errorf("wallet %s not found", account)
	}
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", engine.FundsError(account), account, bal, amount)
	}
	_, err = t.tx.ExecContext(t.ctx, `UPDATE wallets SET balance = balance - $1 WHERE user_id=$2`, amount, account)
	return err
}

func (t *Tx) credit(account string, amount int64) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE wallets SET balance = balance + $1 WHERE user_id=$2`, amount, account)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("wallet %s not found", account)
	}
	return nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, role) VALUES ($1,$2,$3)
		 RETURNING id, email, password_hash, role, created_at`, email, hash, role,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return nil, model.ErrEmailTaken
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email=$1`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE id::text=$1`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, email, role, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ── Wallets ──────────────────────────────────────────

func (s *Store) CreateWallet(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	return err
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, balance FROM wallets WHERE user_id=$1`, userID,
	).Scan(&w.UserID, &w.Balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *Store) DepositWallet(ctx context.Context, userID string, amount int64) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := s.DB.QueryRowContext(ctx,
		`UPDATE wallets SET balance = balance + $1 WHERE user_id=$2 RETURNING user_id, balance`, amount, userID,
	).Scan(&w.UserID, &w.Balance)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wallet %s not found", userID)
	}
	return w, err
}

// ── Event Log ────────────────────────────────────────

func (s *Store) ListEvents(ctx context.Context, roundID *int64, limit int) ([]model.Event, error) {
	q := `SELECT seq, round_id, type, payload_json, created_at FROM event_log`
	args := []any{limit}
	if roundID != nil {
		q += ` WHERE round_id=$2`
		args = append(args, *roundID)
	}
	q += ` ORDER BY seq DESC LIMIT $1`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var (
			ev  model.Event
			rid sql.NullInt64
			raw []byte
		)
		if err := rows.Scan(&ev.Seq, &rid, &ev.Type, &raw, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if rid.Valid {
			id := rid.Int64
			ev.RoundID = &id
		}
		_ = json.Unmarshal(raw, &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
