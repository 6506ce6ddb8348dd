package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"parlay-pool/internal/api"
	"parlay-pool/internal/cache"
	"parlay-pool/internal/capital"
	"parlay-pool/internal/config"
	"parlay-pool/internal/db"
	"parlay-pool/internal/engine"
	"parlay-pool/internal/events"
	"parlay-pool/internal/logger"
	"parlay-pool/internal/memstore"
	"parlay-pool/internal/metrics"
	"parlay-pool/internal/model"
	"parlay-pool/internal/oracle"
	"parlay-pool/internal/ws"
)

type store interface {
	engine.Store
	api.Accounts
}

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	log, err := logger.New("parlay-pool", cfg.Env, cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Store
	var st store
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, state is kept in memory")
		st = memstore.New()
	} else {
		pg, err := db.Open(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(cfg.Database.MigrationsPath); err != nil {
			return err
		}
		log.Info("database ready", zap.String("migrations", cfg.Database.MigrationsPath))
		st = pg
	}

	// Publishers
	hub := ws.NewHub(log)
	pubs := events.Fanout{hub}

	var eng *engine.Engine
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.New(reg, func() (int64, int64) {
		res := eng.Reserve()
		return res.Balance, res.LockedBonus
	})
	pubs = append(pubs, mc)

	var odds api.OddsCache
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		oc := cache.NewOdds(rdb, cfg.Redis.OddsTTL, 256, log)
		go oc.Run(ctx)
		odds = oc
		pubs = append(pubs, oc)
		log.Info("odds cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		bus := events.NewKafka(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), 1024, log)
		go bus.Run(ctx)
		pubs = append(pubs, bus)
		log.Info("event bus enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	opts := []engine.Option{engine.WithPublisher(pubs), engine.WithLogger(log)}

	// Capital vault
	if cfg.Capital.Enabled {
		vault, err := openVault(ctx, st, cfg.Capital, log)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithCapital(vault))
	}

	// Oracle
	var sim *oracle.Simulator
	switch cfg.Oracle.Mode {
	case "http":
		client := oracle.NewClient(cfg.Oracle.URL, cfg.Oracle.CallbackURL, cfg.Oracle.Secret, cfg.Oracle.RatePerSecond, log)
		opts = append(opts, engine.WithOracle(client))
	case "simulator":
		sim = oracle.NewSimulator(cfg.Oracle.SimulateDelay, log)
		opts = append(opts, engine.WithOracle(sim))
	default:
		log.Warn("unknown oracle mode, outcomes need manual settlement", zap.String("mode", cfg.Oracle.Mode))
	}

	var err error
	eng, err = engine.New(ctx, st, cfg.Params(), opts...)
	if err != nil {
		return err
	}
	if sim != nil {
		sim.Bind(eng)
	}
	go eng.Run(ctx)
	go oracle.NewWatchdog(eng, cfg.Oracle.WatchInterval, log).Run(ctx)

	if _, err := api.EnsureOperator(ctx, st, cfg.Server.OperatorEmail, cfg.Server.OperatorPassword); err != nil {
		return err
	}

	srv := api.NewServer(api.Deps{
		Store:        st,
		Engine:       eng,
		WS:           hub.HandleWS,
		Secret:       cfg.Server.JWTSecret,
		OracleSecret: cfg.Oracle.Secret,
		Odds:         odds,
		Metrics:      mc,
		Logger:       log,
	})
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpSrv.Addr), zap.String("oracle", cfg.Oracle.Mode))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// openVault tops the capital wallet up to the configured deposit and loads
// its balance into a fresh vault. The vault keeps no state of its own across
// restarts; the wallet is the source of truth.
func openVault(ctx context.Context, st store, cfg config.CapitalConfig, log *zap.Logger) (*capital.Vault, error) {
	w, err := st.GetWallet(ctx, model.CapitalAccount)
	if err != nil {
		return nil, err
	}
	balance := int64(0)
	if w != nil {
		balance = w.Balance
	}
	if top := cfg.InitialDeposit - balance; top > 0 {
		if w, err = st.DepositWallet(ctx, model.CapitalAccount, top); err != nil {
			return nil, err
		}
		balance = w.Balance
	}
	vault := capital.NewVault(cfg.MaxShareBps, log)
	if balance > 0 {
		if err := vault.Deposit(balance); err != nil {
			return nil, err
		}
	}
	log.Info("capital vault enabled", zap.Int64("balance", balance))
	return vault, nil
}
