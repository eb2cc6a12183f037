package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the full application configuration. It is loaded once at startup
// and treated as immutable afterwards; components receive the sub-configs they
// need at construction time.
type Config struct {
	Trading  TradingConfig  `json:"trading"`
	Data     DataConfig     `json:"data"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Logging  LoggingConfig  `json:"logging"`
}

// TradingConfig groups everything the decision/simulation core consumes.
type TradingConfig struct {
	StartingCapital float64       `json:"starting_capital"`
	Signals         SignalsConfig `json:"signals"`
	Exit            ExitConfig    `json:"exit"`
	Risk            RiskConfig    `json:"risk"`
	Fees            FeesConfig    `json:"fees"`
}

// SignalsConfig holds per-indicator parameters for the signal engine.
type SignalsConfig struct {
	MinConfirmingSignals int          `json:"min_confirming_signals"`
	RSI                  RSIConfig    `json:"rsi"`
	MACD                 MACDConfig   `json:"macd"`
	Volume               VolumeConfig `json:"volume"`
	BB                   BBConfig     `json:"bb"`
	EMA                  EMAConfig    `json:"ema"`
}

type RSIConfig struct {
	Period              int     `json:"period"`
	OversoldThreshold   float64 `json:"oversold_threshold"`
	OverboughtThreshold float64 `json:"overbought_threshold"`
}

type MACDConfig struct {
	FastPeriod   int `json:"fast_period"`
	SlowPeriod   int `json:"slow_period"`
	SignalPeriod int `json:"signal_period"`
}

type VolumeConfig struct {
	SpikeMultiplier float64 `json:"spike_multiplier"`
	LookbackPeriods int     `json:"lookback_periods"`
}

type BBConfig struct {
	Period int     `json:"period"`
	StdDev float64 `json:"std_dev"`
}

type EMAConfig struct {
	FastPeriod int `json:"fast_period"`
	SlowPeriod int `json:"slow_period"`
}

// ExitConfig holds position exit parameters. Percent values are whole
// percentages (1.0 means 1%).
type ExitConfig struct {
	TakeProfitPercent   float64 `json:"take_profit_percent"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TimeStopMinutes     int     `json:"time_stop_minutes"`
	TrailingStopPercent float64 `json:"trailing_stop_percent"`
}

// RiskConfig holds account-level risk limits.
type RiskConfig struct {
	MaxPositionSizePercent float64 `json:"max_position_size_percent"`
	MaxLeverage            float64 `json:"max_leverage"`
	DailyLossLimitPercent  float64 `json:"daily_loss_limit_percent"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	CooldownAfterLosses    int     `json:"cooldown_after_losses"` // minutes
}

// FeesConfig holds the simulated fill model parameters.
type FeesConfig struct {
	MakerFeeRate         float64 `json:"maker_fee_rate"`
	TakerFeeRate         float64 `json:"taker_fee_rate"`
	BaseSlippage         float64 `json:"base_slippage"`
	VolumeSlippageFactor float64 `json:"volume_slippage_factor"`
	LargeOrderNotional   float64 `json:"large_order_notional"`
	MaxRandomImpact      float64 `json:"max_random_impact"`
}

// DataConfig holds market data parameters.
type DataConfig struct {
	Pairs          []string `json:"pairs"`
	CandleLimit    int      `json:"candle_limit"`
	UpdateInterval int      `json:"update_interval"` // seconds between evaluation ticks
}

type ServerConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// Default returns the configuration the bot ships with. File and environment
// values override these.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			StartingCapital: 1000.0,
			Signals: SignalsConfig{
				MinConfirmingSignals: 2,
				RSI:                  RSIConfig{Period: 14, OversoldThreshold: 30, OverboughtThreshold: 70},
				MACD:                 MACDConfig{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9},
				Volume:               VolumeConfig{SpikeMultiplier: 3.0, LookbackPeriods: 20},
				BB:                   BBConfig{Period: 20, StdDev: 2.0},
				EMA:                  EMAConfig{FastPeriod: 9, SlowPeriod: 21},
			},
			Exit: ExitConfig{
				TakeProfitPercent:   1.0,
				StopLossPercent:     0.5,
				TimeStopMinutes:     15,
				TrailingStopPercent: 0.5,
			},
			Risk: RiskConfig{
				MaxPositionSizePercent: 2.0,
				MaxLeverage:            3,
				DailyLossLimitPercent:  5.0,
				MaxConcurrentPositions: 3,
				CooldownAfterLosses:    30,
			},
			Fees: FeesConfig{
				MakerFeeRate:         0.0001,
				TakerFeeRate:         0.0006,
				BaseSlippage:         0.0002,
				VolumeSlippageFactor: 0.00001,
				LargeOrderNotional:   10000,
				MaxRandomImpact:      0.0001,
			},
		},
		Data: DataConfig{
			Pairs:          []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
			CandleLimit:    100,
			UpdateInterval: 30,
		},
		Server: ServerConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: "*",
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "scalper",
			Database: "scalper",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Enabled: false,
			Address: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
	}
}

// Load reads config.json (if present), applies environment overrides and
// validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config.json: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// values take precedence over the config file.
func applyEnvOverrides(cfg *Config) {
	cfg.Trading.StartingCapital = getEnvFloatOrDefault("STARTING_CAPITAL", cfg.Trading.StartingCapital)

	cfg.Data.UpdateInterval = getEnvIntOrDefault("UPDATE_INTERVAL", cfg.Data.UpdateInterval)

	cfg.Server.Enabled = getEnvOrDefault("API_ENABLED", boolString(cfg.Server.Enabled)) == "true"
	cfg.Server.Host = getEnvOrDefault("API_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("API_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvOrDefault("API_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Database.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolString(cfg.Database.Enabled)) == "true"
	cfg.Database.Host = getEnvOrDefault("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DATABASE_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.Logging.JSONFormat)) == "true"
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	t := c.Trading
	if t.StartingCapital <= 0 {
		return fmt.Errorf("trading.starting_capital must be positive, got %v", t.StartingCapital)
	}
	if t.Signals.MinConfirmingSignals < 1 {
		return fmt.Errorf("signals.min_confirming_signals must be at least 1, got %d", t.Signals.MinConfirmingSignals)
	}
	if t.Exit.TakeProfitPercent <= 0 || t.Exit.StopLossPercent <= 0 {
		return fmt.Errorf("exit.take_profit_percent and exit.stop_loss_percent must be positive")
	}
	if t.Exit.TimeStopMinutes <= 0 {
		return fmt.Errorf("exit.time_stop_minutes must be positive, got %d", t.Exit.TimeStopMinutes)
	}
	if t.Risk.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be at least 1, got %v", t.Risk.MaxLeverage)
	}
	if t.Risk.MaxConcurrentPositions < 1 {
		return fmt.Errorf("risk.max_concurrent_positions must be at least 1, got %d", t.Risk.MaxConcurrentPositions)
	}
	if len(c.Data.Pairs) == 0 {
		return fmt.Errorf("data.pairs must not be empty")
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
