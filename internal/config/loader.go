package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WHALETRACK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WHALETRACK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "WHALETRACK_POLYMARKET_GAMMA_HOST")
	setDuration(&cfg.Polymarket.RequestTimeout, "WHALETRACK_POLYMARKET_REQUEST_TIMEOUT")

	// ── Open-Meteo ──
	setStr(&cfg.OpenMeteo.BaseURL, "WHALETRACK_OPENMETEO_BASE_URL")
	setDuration(&cfg.OpenMeteo.RequestTimeout, "WHALETRACK_OPENMETEO_REQUEST_TIMEOUT")
	setInt(&cfg.OpenMeteo.ForecastDays, "WHALETRACK_OPENMETEO_FORECAST_DAYS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "WHALETRACK_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "WHALETRACK_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "WHALETRACK_DATABASE_HOST")
	setInt(&cfg.Database.Port, "WHALETRACK_DATABASE_PORT")
	setStr(&cfg.Database.Database, "WHALETRACK_DATABASE_NAME")
	setStr(&cfg.Database.User, "WHALETRACK_DATABASE_USER")
	setStr(&cfg.Database.Password, "WHALETRACK_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "WHALETRACK_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "WHALETRACK_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "WHALETRACK_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "WHALETRACK_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WHALETRACK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WHALETRACK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WHALETRACK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WHALETRACK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WHALETRACK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WHALETRACK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WHALETRACK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WHALETRACK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WHALETRACK_S3_REGION")
	setStr(&cfg.S3.Bucket, "WHALETRACK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WHALETRACK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WHALETRACK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WHALETRACK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WHALETRACK_S3_FORCE_PATH_STYLE")

	// ── Resolution ──
	setInt(&cfg.Resolution.BatchSize, "WHALETRACK_RESOLUTION_BATCH_SIZE")
	setInt(&cfg.Resolution.MaxConsecutiveFailures, "WHALETRACK_RESOLUTION_MAX_CONSECUTIVE_FAILURES")

	// ── Scoring ──
	setInt(&cfg.Scoring.MinResolvedTrades, "WHALETRACK_SCORING_MIN_RESOLVED_TRADES")
	setInt(&cfg.Scoring.FullSampleSize, "WHALETRACK_SCORING_FULL_SAMPLE_SIZE")
	setFloat64(&cfg.Scoring.WinRateWeight, "WHALETRACK_SCORING_WIN_RATE_WEIGHT")
	setFloat64(&cfg.Scoring.PnLWeight, "WHALETRACK_SCORING_PNL_WEIGHT")
	setFloat64(&cfg.Scoring.QualifyMinWinRate, "WHALETRACK_SCORING_QUALIFY_MIN_WIN_RATE")
	setInt(&cfg.Scoring.LeaderboardSize, "WHALETRACK_SCORING_LEADERBOARD_SIZE")

	// ── Consensus ──
	setInt(&cfg.Consensus.MinWhales, "WHALETRACK_CONSENSUS_MIN_WHALES")
	setFloat64(&cfg.Consensus.OffsetRatio, "WHALETRACK_CONSENSUS_OFFSET_RATIO")
	setFloat64(&cfg.Consensus.MaxSlippage, "WHALETRACK_CONSENSUS_MAX_SLIPPAGE")

	// ── Signals ──
	setFloat64(&cfg.Signals.MinAvgWinRate, "WHALETRACK_SIGNALS_MIN_AVG_WIN_RATE")
	setFloat64(&cfg.Signals.WeatherEdgeMin, "WHALETRACK_SIGNALS_WEATHER_EDGE_MIN")
	setFloat64(&cfg.Signals.HighConfidenceEdge, "WHALETRACK_SIGNALS_HIGH_CONFIDENCE_EDGE")
	setFloat64(&cfg.Signals.AlertEdgeMin, "WHALETRACK_SIGNALS_ALERT_EDGE_MIN")
	setDuration(&cfg.Signals.StalenessWindow, "WHALETRACK_SIGNALS_STALENESS_WINDOW")
	setDuration(&cfg.Signals.NewMarketMaxAge, "WHALETRACK_SIGNALS_NEW_MARKET_MAX_AGE")
	setFloat64(&cfg.Signals.NewMarketMaxVolume, "WHALETRACK_SIGNALS_NEW_MARKET_MAX_VOLUME")
	setInt(&cfg.Signals.NewMarketScanLimit, "WHALETRACK_SIGNALS_NEW_MARKET_SCAN_LIMIT")

	// ── Paper ──
	setFloat64(&cfg.Paper.Stake, "WHALETRACK_PAPER_STAKE")
	setFloat64(&cfg.Paper.StopLossUSD, "WHALETRACK_PAPER_STOP_LOSS_USD")
	setFloat64(&cfg.Paper.StopMinWinRate, "WHALETRACK_PAPER_STOP_MIN_WIN_RATE")
	setInt(&cfg.Paper.StopMinSample, "WHALETRACK_PAPER_STOP_MIN_SAMPLE")

	// ── Supervisor ──
	setDuration(&cfg.Supervisor.CheckInterval, "WHALETRACK_SUPERVISOR_CHECK_INTERVAL")
	setDuration(&cfg.Supervisor.StallWindow, "WHALETRACK_SUPERVISOR_STALL_WINDOW")
	setDuration(&cfg.Supervisor.RestartLockTTL, "WHALETRACK_SUPERVISOR_RESTART_LOCK_TTL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.ResolutionInterval, "WHALETRACK_SCHEDULER_RESOLUTION_INTERVAL")
	setDuration(&cfg.Scheduler.ScoringInterval, "WHALETRACK_SCHEDULER_SCORING_INTERVAL")
	setDuration(&cfg.Scheduler.SignalInterval, "WHALETRACK_SCHEDULER_SIGNAL_INTERVAL")
	setDuration(&cfg.Scheduler.PaperInterval, "WHALETRACK_SCHEDULER_PAPER_INTERVAL")
	setStr(&cfg.Scheduler.SnapshotPrefix, "WHALETRACK_SCHEDULER_SNAPSHOT_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WHALETRACK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WHALETRACK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WHALETRACK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WHALETRACK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "WHALETRACK_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WHALETRACK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WHALETRACK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WHALETRACK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WHALETRACK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WHALETRACK_MODE")
	setStr(&cfg.LogLevel, "WHALETRACK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
