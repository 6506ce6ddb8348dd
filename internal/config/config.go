// Package config loads the service configuration from a YAML file, an
// optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
)

type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Capital  CapitalConfig  `yaml:"capital"`
	Log      LogConfig      `yaml:"log"`
	Pool     PoolConfig     `yaml:"pool"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	// The operator account is created on boot when it does not exist.
	OperatorEmail    string `yaml:"operator_email"`
	OperatorPassword string `yaml:"operator_password"`
}

// DatabaseConfig selects the store. An empty URL runs the engine on the
// in-memory store.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MigrationsPath string `yaml:"migrations_path"`
}

// RedisConfig enables the odds cache when Addr is set.
type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	OddsTTL time.Duration `yaml:"odds_ttl"`
}

// KafkaConfig enables the event bus when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type OracleConfig struct {
	// Mode is "http" to call URL or "simulator" to resolve matches locally.
	Mode          string        `yaml:"mode"`
	URL           string        `yaml:"url"`
	CallbackURL   string        `yaml:"callback_url"`
	Secret        string        `yaml:"secret"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	SimulateDelay time.Duration `yaml:"simulate_delay"`
}

// CapitalConfig enables the in-process LP vault as the external capital
// source.
type CapitalConfig struct {
	Enabled        bool  `yaml:"enabled"`
	InitialDeposit int64 `yaml:"initial_deposit"`
	// MaxShareBps caps one payout's share of the vault; 0 disables the cap.
	MaxShareBps int64 `yaml:"max_share_bps"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// PoolConfig carries the economic parameters. Fields left out of the file
// keep the defaults from engine.DefaultParams.
type PoolConfig struct {
	MatchesPerRound int   `yaml:"matches_per_round"`
	MaxLegs         int   `yaml:"max_legs"`
	MinStake        int64 `yaml:"min_stake"`
	MaxBetAmount    int64 `yaml:"max_bet_amount"`
	MaxPayoutPerBet int64 `yaml:"max_payout_per_bet"`
	MaxRoundPayouts int64 `yaml:"max_round_payouts"`

	SeedSafetyFactor  int64 `yaml:"seed_safety_factor"`
	VirtualLiquidityK int64 `yaml:"virtual_liquidity_k"`
	WinnerShareBps    int64 `yaml:"winner_share_bps"`
	StakeBonusBps     int64 `yaml:"stake_bonus_bps"`

	ProtocolShareBps int64 `yaml:"protocol_share_bps"`
	CapitalShareBps  int64 `yaml:"capital_share_bps"`
	SeasonShareBps   int64 `yaml:"season_share_bps"`

	Schedule              string             `yaml:"schedule"`
	CountTiers            []engine.CountTier `yaml:"count_tiers"`
	ImbalanceThresholdBps int64              `yaml:"imbalance_threshold_bps"`
	ImbalanceFloorBps     int64              `yaml:"imbalance_floor_bps"`
	DecayBands            []engine.DecayBand `yaml:"decay_bands"`

	ClaimWindow    time.Duration `yaml:"claim_window"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	SweepBountyBps int64         `yaml:"sweep_bounty_bps"`
	LateFeeBps     int64         `yaml:"late_fee_bps"`
	SweepPolicy    string        `yaml:"sweep_policy"`

	OracleTimeout  time.Duration `yaml:"oracle_timeout"`
	OracleCooldown time.Duration `yaml:"oracle_cooldown"`
}

// Load reads path (skipped when empty), then .env, then the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{Pool: poolDefaults(engine.DefaultParams())}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Params().Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: pool: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ORACLE_URL"); v != "" {
		cfg.Oracle.URL = v
		if cfg.Oracle.Mode == "" {
			cfg.Oracle.Mode = "http"
		}
	}
	if v := os.Getenv("ORACLE_SECRET"); v != "" {
		cfg.Oracle.Secret = v
	}
	if v := os.Getenv("ORACLE_CALLBACK_URL"); v != "" {
		cfg.Oracle.CallbackURL = v
	}
	if v := os.Getenv("OPERATOR_EMAIL"); v != "" {
		cfg.Server.OperatorEmail = v
	}
	if v := os.Getenv("OPERATOR_PASSWORD"); v != "" {
		cfg.Server.OperatorPassword = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "local"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "4000"
	}
	if cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = "dev-secret-at-least-32-characters!!"
	}
	if cfg.Server.OperatorEmail == "" {
		cfg.Server.OperatorEmail = "operator@parlay.local"
	}
	if cfg.Server.OperatorPassword == "" {
		cfg.Server.OperatorPassword = "operator"
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}
	if cfg.Redis.OddsTTL <= 0 {
		cfg.Redis.OddsTTL = 30 * time.Second
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "parlay.events"
	}
	if cfg.Oracle.Mode == "" {
		cfg.Oracle.Mode = "simulator"
	}
	if cfg.Oracle.CallbackURL == "" {
		cfg.Oracle.CallbackURL = "http://localhost:" + cfg.Server.Port + "/api/oracle/callback"
	}
	if cfg.Oracle.RatePerSecond <= 0 {
		cfg.Oracle.RatePerSecond = 2
	}
	if cfg.Oracle.WatchInterval <= 0 {
		cfg.Oracle.WatchInterval = 30 * time.Second
	}
	if cfg.Oracle.SimulateDelay <= 0 {
		cfg.Oracle.SimulateDelay = 2 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	for i, k := range cfg.Kafka.Brokers {
		cfg.Kafka.Brokers[i] = strings.TrimSpace(k)
	}
}

func poolDefaults(p engine.Params) PoolConfig {
	return PoolConfig{
		MatchesPerRound:       p.MatchesPerRound,
		MaxLegs:               p.MaxLegs,
		MinStake:              p.MinStake,
		MaxBetAmount:          p.MaxBetAmount,
		MaxPayoutPerBet:       p.MaxPayoutPerBet,
		MaxRoundPayouts:       p.MaxRoundPayouts,
		SeedSafetyFactor:      p.SeedSafetyFactor,
		VirtualLiquidityK:     p.VirtualLiquidityK,
		WinnerShareBps:        p.WinnerShareBps,
		StakeBonusBps:         p.StakeBonusBps,
		ProtocolShareBps:      p.ProtocolShareBps,
		CapitalShareBps:       p.CapitalShareBps,
		SeasonShareBps:        p.SeasonShareBps,
		Schedule:              string(p.Schedule),
		CountTiers:            p.CountTiers,
		ImbalanceThresholdBps: p.ImbalanceThresholdBps,
		ImbalanceFloorBps:     int64(p.ImbalanceFloor),
		DecayBands:            p.DecayBands,
		ClaimWindow:           p.ClaimWindow,
		GracePeriod:           p.GracePeriod,
		SweepBountyBps:        p.SweepBountyBps,
		LateFeeBps:            p.LateFeeBps,
		SweepPolicy:           string(p.SweepPolicy),
		OracleTimeout:         p.OracleTimeout,
		OracleCooldown:        p.OracleCooldown,
	}
}

// Params maps the pool section onto the engine's parameter set.
func (c *Config) Params() engine.Params {
	p := c.Pool
	return engine.Params{
		MatchesPerRound:       p.MatchesPerRound,
		MaxLegs:               p.MaxLegs,
		MinStake:              p.MinStake,
		MaxBetAmount:          p.MaxBetAmount,
		MaxPayoutPerBet:       p.MaxPayoutPerBet,
		MaxRoundPayouts:       p.MaxRoundPayouts,
		SeedSafetyFactor:      p.SeedSafetyFactor,
		VirtualLiquidityK:     p.VirtualLiquidityK,
		WinnerShareBps:        p.WinnerShareBps,
		StakeBonusBps:         p.StakeBonusBps,
		ProtocolShareBps:      p.ProtocolShareBps,
		CapitalShareBps:       p.CapitalShareBps,
		SeasonShareBps:        p.SeasonShareBps,
		Schedule:              engine.Schedule(p.Schedule),
		CountTiers:            p.CountTiers,
		ImbalanceThresholdBps: p.ImbalanceThresholdBps,
		ImbalanceFloor:        model.Multiplier(p.ImbalanceFloorBps),
		DecayBands:            p.DecayBands,
		ClaimWindow:           p.ClaimWindow,
		GracePeriod:           p.GracePeriod,
		SweepBountyBps:        p.SweepBountyBps,
		LateFeeBps:            p.LateFeeBps,
		SweepPolicy:           engine.SweepPolicy(p.SweepPolicy),
		OracleTimeout:         p.OracleTimeout,
		OracleCooldown:        p.OracleCooldown,
	}
}
