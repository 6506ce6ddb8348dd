package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
	"parlay-pool/internal/oracle"
)

// Accounts is the user, wallet and event-log side of a store. Both the
// Postgres and the in-memory stores implement it.
type Accounts interface {
	CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateWallet(ctx context.Context, userID string) error
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	DepositWallet(ctx context.Context, userID string, amount int64) (*model.Wallet, error)
	ListEvents(ctx context.Context, roundID *int64, limit int) ([]model.Event, error)
}

// OddsCache serves round odds, calling load on a miss.
type OddsCache interface {
	RoundOdds(ctx context.Context, roundID int64, load func() ([]model.Odds, error)) ([]model.Odds, error)
}

// RequestObserver records served requests; *metrics.Collector implements it.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
	Handler() http.Handler
}

type Deps struct {
	Store        Accounts
	Engine       *engine.Engine
	WS           http.HandlerFunc
	Secret       string
	OracleSecret string
	Odds         OddsCache
	Metrics      RequestObserver
	Logger       *zap.Logger
}

type Server struct {
	store        Accounts
	eng          *engine.Engine
	ws           http.HandlerFunc
	secret       []byte
	oracleSecret []byte
	odds         OddsCache
	metrics      RequestObserver
	log          *zap.Logger
}

func NewServer(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:        d.Store,
		eng:          d.Engine,
		ws:           d.WS,
		secret:       []byte(d.Secret),
		oracleSecret: []byte(d.OracleSecret),
		odds:         d.Odds,
		metrics:      d.Metrics,
		log:          log.Named("api"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.ws != nil {
		r.Get("/ws", s.ws)
	}

	// Auth (public)
	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	// Oracle callback, authenticated by body signature
	r.Post("/api/oracle/callback", s.oracleCallback)

	// Public reads
	r.Get("/api/rounds", s.listRounds)
	r.Get("/api/rounds/{id}", s.getRound)
	r.Get("/api/rounds/{id}/odds", s.roundOdds)
	r.Get("/api/rounds/{id}/odds/{match}", s.matchOdds)
	r.Get("/api/reserve", s.getReserve)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/wallet", s.getWallet)

		r.Post("/api/rounds/{id}/bets", s.placeBet)
		r.Get("/api/bets", s.myBets)
		r.Get("/api/bets/{id}", s.getBet)
		r.Get("/api/bets/{id}/payout", s.getPayout)
		r.Post("/api/bets/{id}/claim", s.claim)
		r.Post("/api/bets/{id}/sweep", s.sweep)

		r.Group(func(r chi.Router) {
			r.Use(s.operatorOnly)
			r.Post("/api/admin/rounds", s.createRound)
			r.Post("/api/admin/rounds/{id}/seed", s.seedRound)
			r.Post("/api/admin/rounds/{id}/lock", s.lockRound)
			r.Post("/api/admin/rounds/{id}/request-outcomes", s.requestOutcomes)
			r.Post("/api/admin/rounds/{id}/manual-settle", s.manualSettle)
			r.Post("/api/admin/rounds/{id}/finalize", s.finalize)
			r.Get("/api/admin/rounds/{id}/bets", s.roundBets)
			r.Post("/api/admin/reserve/fund", s.fundReserve)
			r.Get("/api/admin/oracle/pending", s.pendingRequests)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Get("/api/admin/users", s.listUsers)
			r.Get("/api/admin/events", s.listEvents)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	existing, _ := s.store.GetUserByEmail(r.Context(), req.Email)
	if existing != nil {
		jsonErr(w, 409, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash), model.RoleUser)
	if errors.Is(err, model.ErrEmailTaken) {
		jsonErr(w, 409, "email already registered")
		return
	}
	if err != nil {
		jsonErr(w, 500, "create user failed: "+err.Error())
		return
	}
	if err := s.store.CreateWallet(r.Context(), user.ID); err != nil {
		jsonErr(w, 500, "create wallet failed")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) makeToken(userID string, role model.Role) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

// EnsureOperator creates the operator account if it does not exist yet.
func EnsureOperator(ctx context.Context, store Accounts, email, password string) (*model.User, error) {
	if u, err := store.GetUserByEmail(ctx, email); err != nil || u != nil {
		return u, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := store.CreateUser(ctx, email, string(hash), model.RoleOperator)
	if err != nil {
		return nil, err
	}
	return u, store.CreateWallet(ctx, u.ID)
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			jsonErr(w, 401, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonErr(w, 401, "invalid claims")
			return
		}
		userID, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleOperator) {
			jsonErr(w, 403, "operator only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, status, d)
		}
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", d),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(ctxUserID).(string)
	return uid
}

// ── Wallet ───────────────────────────────────────────

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.store.GetWallet(r.Context(), userID(r))
	if err != nil || wallet == nil {
		jsonErr(w, 404, "wallet not found")
		return
	}
	json200(w, wallet)
}

// ── Rounds ───────────────────────────────────────────

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	json200(w, s.eng.Rounds())
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	round, err := s.eng.Round(id)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	settled, _ := s.eng.IsFullySettled(id)
	json200(w, map[string]any{"round": round, "fully_settled": settled})
}

func (s *Server) roundOdds(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	load := func() ([]model.Odds, error) { return s.eng.RoundOdds(id) }
	var (
		odds []model.Odds
		err  error
	)
	if s.odds != nil {
		odds, err = s.odds.RoundOdds(r.Context(), id, load)
	} else {
		odds, err = load()
	}
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, odds)
}

func (s *Server) matchOdds(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	match, err := strconv.Atoi(chi.URLParam(r, "match"))
	if err != nil {
		jsonErr(w, 400, "invalid match index")
		return
	}
	odds, err := s.eng.CurrentOdds(id, match)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, odds)
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	json200(w, s.eng.Reserve())
}

// ── Bets ─────────────────────────────────────────────

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	var req model.PlaceBetReq
	if !decode(w, r, &req) {
		return
	}
	bet, err := s.eng.PlaceBet(r.Context(), userID(r), id, req.Predictions, req.Stake)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, bet)
}

func (s *Server) myBets(w http.ResponseWriter, r *http.Request) {
	bets := s.eng.BetsOf(userID(r))
	if bets == nil {
		bets = []model.Bet{}
	}
	json200(w, bets)
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	bet, err := s.eng.Bet(chi.URLParam(r, "id"))
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, bet)
}

func (s *Server) getPayout(w http.ResponseWriter, r *http.Request) {
	p, err := s.eng.CalculatePayout(chi.URLParam(r, "id"))
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, p)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	bet, err := s.eng.Claim(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, bet)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.Sweep(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, res)
}

// ── Oracle ───────────────────────────────────────────

func (s *Server) oracleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		jsonErr(w, 400, "read body failed")
		return
	}
	if !oracle.Verify(s.oracleSecret, body, r.Header.Get(oracle.SignatureHeader)) {
		jsonErr(w, 403, "bad signature")
		return
	}
	var cb oracle.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.eng.OnOutcomesReady(r.Context(), cb.RequestID, cb.Results); err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "accepted"})
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Matches []engine.MatchSpec `json:"matches"`
	}
	if !decode(w, r, &req) {
		return
	}
	round, err := s.eng.CreateRound(r.Context(), req.Matches)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, round)
}

func (s *Server) seedRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Seeds    []model.MatchSeed `json:"seeds"`
		PerMatch int64             `json:"per_match"`
	}
	if !decode(w, r, &req) {
		return
	}
	seeds := req.Seeds
	if len(seeds) == 0 && req.PerMatch > 0 {
		seeds = make([]model.MatchSeed, s.eng.Params().MatchesPerRound)
		for i := range seeds {
			seeds[i] = model.EvenSeed(req.PerMatch)
		}
	}
	round, err := s.eng.SeedRound(r.Context(), id, seeds)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, round)
}

func (s *Server) lockRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	round, err := s.eng.LockRound(r.Context(), id)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, round)
}

func (s *Server) requestOutcomes(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	req, err := s.eng.RequestOutcomes(r.Context(), id)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, req)
}

func (s *Server) manualSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Results []model.Outcome `json:"results"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.ManualSettle(r.Context(), id, req.Results); err != nil {
		s.engineErr(w, err)
		return
	}
	round, _ := s.eng.Round(id)
	json200(w, round)
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	split, err := s.eng.FinalizeRoundRevenue(r.Context(), id)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, split)
}

func (s *Server) roundBets(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	if _, err := s.eng.Round(id); err != nil {
		s.engineErr(w, err)
		return
	}
	bets := s.eng.RoundBets(id)
	if bets == nil {
		bets = []model.Bet{}
	}
	json200(w, bets)
}

// fundReserve moves tokens from the operator's own wallet into the reserve.
func (s *Server) fundReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	st, err := s.eng.FundReserve(r.Context(), userID(r), req.Amount)
	if err != nil {
		s.engineErr(w, err)
		return
	}
	json200(w, st)
}

func (s *Server) pendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs := s.eng.PendingRequests()
	if reqs == nil {
		reqs = []model.OracleRequest{}
	}
	json200(w, reqs)
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Amount <= 0 {
		jsonErr(w, 400, "user_id and amount > 0 required")
		return
	}
	wallet, err := s.store.DepositWallet(r.Context(), req.UserID, req.Amount)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, wallet)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	type userRow struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		Role      string    `json:"role"`
		CreatedAt time.Time `json:"created_at"`
		Balance   int64     `json:"balance"`
	}
	out := make([]userRow, len(users))
	for i, u := range users {
		out[i] = userRow{ID: u.ID, Email: u.Email, Role: string(u.Role), CreatedAt: u.CreatedAt}
		if wallet, err := s.store.GetWallet(r.Context(), u.ID); err == nil && wallet != nil {
			out[i].Balance = wallet.Balance
		}
	}
	json200(w, out)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 500 {
		limit = n
	}
	var rp *int64
	if v := r.URL.Query().Get("round_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonErr(w, 400, "invalid round_id")
			return
		}
		rp = &id
	}
	events, err := s.store.ListEvents(r.Context(), rp, limit)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	json200(w, events)
}

// ── Helpers ──────────────────────────────────────────

func roundParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "invalid round id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonErr(w, 400, "invalid json")
		return false
	}
	return true
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

var kindStatus = map[engine.Kind]int{
	engine.KindValidation:    http.StatusBadRequest,
	engine.KindCapacity:      http.StatusUnprocessableEntity,
	engine.KindState:         http.StatusConflict,
	engine.KindOracleTimeout: http.StatusServiceUnavailable,
	engine.KindNotFound:      http.StatusNotFound,
	engine.KindForbidden:     http.StatusForbidden,
}

// engineErr writes an engine failure with its kind and code so clients can
// tell every rejection reason apart. Anything unclassified is a 500.
func (s *Server) engineErr(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		s.log.Error("engine failure", zap.Error(err))
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
		"code":  engine.CodeOf(err),
	})
}
