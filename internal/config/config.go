// Package config defines the top-level configuration for the whaletrack
// pipeline and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WHALETRACK_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	OpenMeteo  OpenMeteoConfig  `toml:"openmeteo"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Resolution ResolutionConfig `toml:"resolution"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Consensus  ConsensusConfig  `toml:"consensus"`
	Signals    SignalsConfig    `toml:"signals"`
	Paper      PaperConfig      `toml:"paper"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost      string   `toml:"gamma_host"`
	RequestTimeout duration `toml:"request_timeout"`
}

// OpenMeteoConfig holds Open-Meteo forecast API parameters.
type OpenMeteoConfig struct {
	BaseURL        string   `toml:"base_url"`
	RequestTimeout duration `toml:"request_timeout"`
	ForecastDays   int      `toml:"forecast_days"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for snapshot
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ResolutionConfig holds resolution-tracker parameters.
type ResolutionConfig struct {
	BatchSize              int `toml:"batch_size"`
	MaxConsecutiveFailures int `toml:"max_consecutive_failures"`
}

// ScoringConfig holds skill-scorer parameters.
type ScoringConfig struct {
	MinResolvedTrades int     `toml:"min_resolved_trades"`
	FullSampleSize    int     `toml:"full_sample_size"`
	WinRateWeight     float64 `toml:"win_rate_weight"`
	PnLWeight         float64 `toml:"pnl_weight"`
	QualifyMinWinRate float64 `toml:"qualify_min_win_rate"`
	LeaderboardSize   int     `toml:"leaderboard_size"`
}

// ConsensusConfig holds consensus-aggregator parameters.
type ConsensusConfig struct {
	MinWhales   int     `toml:"min_whales"`
	OffsetRatio float64 `toml:"offset_ratio"`
	MaxSlippage float64 `toml:"max_slippage"`
}

// WeatherTarget binds one weather market to a forecastable event.
type WeatherTarget struct {
	MarketID  string  `toml:"market_id"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
	Metric    string  `toml:"metric"`
	Threshold float64 `toml:"threshold"`
	Above     bool    `toml:"above"`
	Date      string  `toml:"date"` // YYYY-MM-DD
}

// SignalsConfig holds signal-generator parameters.
type SignalsConfig struct {
	MinAvgWinRate      float64         `toml:"min_avg_win_rate"`
	WeatherEdgeMin     float64         `toml:"weather_edge_min"`
	HighConfidenceEdge float64         `toml:"high_confidence_edge"`
	AlertEdgeMin       float64         `toml:"alert_edge_min"`
	StalenessWindow    duration        `toml:"staleness_window"`
	NewMarketMaxAge    duration        `toml:"new_market_max_age"`
	NewMarketMaxVolume float64         `toml:"new_market_max_volume"`
	NewMarketScanLimit int             `toml:"new_market_scan_limit"`
	WeatherTargets     []WeatherTarget `toml:"weather_targets"`
}

// PaperConfig holds paper-trading ledger parameters.
type PaperConfig struct {
	Stake            float64 `toml:"stake"`
	StopLossUSD      float64 `toml:"stop_loss_usd"`
	StopMinWinRate float64 `toml:"stop_min_win_rate"`
	StopMinSample  int     `toml:"stop_min_sample"`
}

// SupervisorConfig holds backfill-supervisor parameters.
type SupervisorConfig struct {
	CheckInterval  duration `toml:"check_interval"`
	StallWindow    duration `toml:"stall_window"`
	RestartLockTTL duration `toml:"restart_lock_ttl"`
}

// SchedulerConfig holds the pipeline tick intervals.
type SchedulerConfig struct {
	ResolutionInterval duration `toml:"resolution_interval"`
	ScoringInterval    duration `toml:"scoring_interval"`
	SignalInterval     duration `toml:"signal_interval"`
	PaperInterval      duration `toml:"paper_interval"`
	SnapshotPrefix     string   `toml:"snapshot_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"` // empty disables auth
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:      "https://gamma-api.polymarket.com",
			RequestTimeout: duration{10 * time.Second},
		},
		OpenMeteo: OpenMeteoConfig{
			BaseURL:        "https://api.open-meteo.com/v1",
			RequestTimeout: duration{10 * time.Second},
			ForecastDays:   7,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "whaletrack",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "whaletrack-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Resolution: ResolutionConfig{
			BatchSize:              200,
			MaxConsecutiveFailures: 10,
		},
		Scoring: ScoringConfig{
			MinResolvedTrades: 10,
			FullSampleSize:    50,
			WinRateWeight:     0.7,
			PnLWeight:         0.3,
			QualifyMinWinRate: 0.55,
			LeaderboardSize:   50,
		},
		Consensus: ConsensusConfig{
			MinWhales:   3,
			OffsetRatio: 0.5,
			MaxSlippage: 0.10,
		},
		Signals: SignalsConfig{
			MinAvgWinRate:      0.65,
			WeatherEdgeMin:     0.15,
			HighConfidenceEdge: 0.30,
			AlertEdgeMin:       0.30,
			StalenessWindow:    duration{24 * time.Hour},
			NewMarketMaxAge:    duration{24 * time.Hour},
			NewMarketMaxVolume: 10_000,
			NewMarketScanLimit: 100,
		},
		Paper: PaperConfig{
			Stake:          100,
			StopLossUSD:    500,
			StopMinWinRate: 0.40,
			StopMinSample:  20,
		},
		Supervisor: SupervisorConfig{
			CheckInterval:  duration{30 * time.Second},
			StallWindow:    duration{5 * time.Minute},
			RestartLockTTL: duration{time.Minute},
		},
		Scheduler: SchedulerConfig{
			ResolutionInterval: duration{30 * time.Minute},
			ScoringInterval:    duration{time.Hour},
			SignalInterval:     duration{30 * time.Minute},
			PaperInterval:      duration{30 * time.Minute},
			SnapshotPrefix:     "snapshots",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"signal_created", "paper_degraded", "backfill_stalled", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"pipeline": true,
	"backfill": true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: pipeline, backfill, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.RequestTimeout.Duration <= 0 {
		errs = append(errs, "polymarket: request_timeout must be positive")
	}

	// Open-Meteo — only required when weather targets are configured.
	if len(c.Signals.WeatherTargets) > 0 && c.OpenMeteo.BaseURL == "" {
		errs = append(errs, "openmeteo: base_url is required when weather targets are configured")
	}
	for i, t := range c.Signals.WeatherTargets {
		if t.MarketID == "" {
			errs = append(errs, fmt.Sprintf("signals: weather_targets[%d]: market_id must not be empty", i))
		}
		if t.Metric == "" {
			errs = append(errs, fmt.Sprintf("signals: weather_targets[%d]: metric must not be empty", i))
		}
		if t.Date != "" {
			if _, err := time.Parse("2006-01-02", t.Date); err != nil {
				errs = append(errs, fmt.Sprintf("signals: weather_targets[%d]: date %q is not YYYY-MM-DD", i, t.Date))
			}
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Resolution
	if c.Resolution.BatchSize < 1 {
		errs = append(errs, "resolution: batch_size must be >= 1")
	}
	if c.Resolution.MaxConsecutiveFailures < 1 {
		errs = append(errs, "resolution: max_consecutive_failures must be >= 1")
	}

	// Scoring
	if c.Scoring.MinResolvedTrades < 1 {
		errs = append(errs, "scoring: min_resolved_trades must be >= 1")
	}
	if c.Scoring.FullSampleSize < c.Scoring.MinResolvedTrades {
		errs = append(errs, "scoring: full_sample_size must be >= min_resolved_trades")
	}
	if c.Scoring.WinRateWeight < 0 || c.Scoring.PnLWeight < 0 {
		errs = append(errs, "scoring: weights must be non-negative")
	}
	if c.Scoring.WinRateWeight+c.Scoring.PnLWeight == 0 {
		errs = append(errs, "scoring: at least one weight must be positive")
	}
	if c.Scoring.QualifyMinWinRate < 0 || c.Scoring.QualifyMinWinRate > 1 {
		errs = append(errs, fmt.Sprintf("scoring: qualify_min_win_rate must be in [0,1], got %g", c.Scoring.QualifyMinWinRate))
	}

	// Consensus
	if c.Consensus.MinWhales < 1 {
		errs = append(errs, "consensus: min_whales must be >= 1")
	}
	if c.Consensus.OffsetRatio < 0 || c.Consensus.OffsetRatio > 1 {
		errs = append(errs, fmt.Sprintf("consensus: offset_ratio must be in [0,1], got %g", c.Consensus.OffsetRatio))
	}
	if c.Consensus.MaxSlippage <= 0 {
		errs = append(errs, "consensus: max_slippage must be > 0")
	}

	// Signals
	if c.Signals.MinAvgWinRate < 0 || c.Signals.MinAvgWinRate > 1 {
		errs = append(errs, fmt.Sprintf("signals: min_avg_win_rate must be in [0,1], got %g", c.Signals.MinAvgWinRate))
	}
	if c.Signals.WeatherEdgeMin <= 0 {
		errs = append(errs, "signals: weather_edge_min must be > 0")
	}
	if c.Signals.StalenessWindow.Duration <= 0 {
		errs = append(errs, "signals: staleness_window must be positive")
	}

	// Paper
	if c.Paper.Stake <= 0 {
		errs = append(errs, "paper: stake must be > 0")
	}
	if c.Paper.StopMinSample < 1 {
		errs = append(errs, "paper: stop_min_sample must be >= 1")
	}

	// Supervisor
	if c.Supervisor.CheckInterval.Duration <= 0 {
		errs = append(errs, "supervisor: check_interval must be positive")
	}
	if c.Supervisor.StallWindow.Duration < c.Supervisor.CheckInterval.Duration {
		errs = append(errs, "supervisor: stall_window must be >= check_interval")
	}

	// Scheduler
	for name, d := range map[string]time.Duration{
		"resolution_interval": c.Scheduler.ResolutionInterval.Duration,
		"scoring_interval":    c.Scheduler.ScoringInterval.Duration,
		"signal_interval":     c.Scheduler.SignalInterval.Duration,
		"paper_interval":      c.Scheduler.PaperInterval.Duration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("scheduler: %s must be positive", name))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
