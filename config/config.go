package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"backtester/internal/adapters/logger" // Import the logger package for LogLevel
	"backtester/internal/analytics"
	"backtester/internal/backtesting"
	"backtester/internal/risk"
)

// Bar sources selectable through BARS_SOURCE.
const (
	SourceCSV        = "csv"
	SourceBinance    = "binance"
	SourceClickHouse = "clickhouse"
)

// Config holds all application configuration.
type Config struct {
	// Simulation
	Engine        backtesting.Config
	Annualization float64 // Sharpe scaling factor, sqrt of periods per year

	// Input data
	BarsSource  string
	BarsPath    string
	SignalsPath string
	Symbol      string
	Interval    string
	StartTime   time.Time
	EndTime     time.Time
	BarLimit    int // Recent bars to fetch when no START_TIME is set

	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// ClickHouse
	ClickHouseAddr     []string
	ClickHouseDatabase string
	ClickHouseTable    string
	ClickHouseUser     string
	ClickHousePassword string

	// Storage and output
	DBPath    string
	OutputDir string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// HTTP API
	HTTPAddr string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{Engine: backtesting.DefaultConfig()}
	var err error
	var errs []string // Collect validation errors

	// Simulation parameters
	cfg.Engine.FeeRate, err = getEnvAsFloatRequired("FEE_RATE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	}
	if v := os.Getenv("EXIT_FEE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid EXIT_FEE_RATE: %v", err))
		} else {
			cfg.Engine.ExitFeeRate = &rate
		}
	}
	cfg.Engine.SlippageRate, err = getEnvAsFloatRequired("SLIPPAGE_RATE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_RATE: %v", err))
	}
	cfg.Engine.InitialEquity, err = getEnvAsFloatRequired("INITIAL_EQUITY", cfg.Engine.InitialEquity)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_EQUITY: %v", err))
	}
	cfg.Engine.SameBarPolicy, err = backtesting.ParseSameBarPolicy(getEnv("SAME_BAR_POLICY", "sl_first"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SAME_BAR_POLICY: %v", err))
	}
	cfg.Engine.EntryMode, err = backtesting.ParseEntryMode(getEnv("ENTRY_MODE", "signal_bar"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ENTRY_MODE: %v", err))
	}
	cfg.Engine.InvalidSignals, err = backtesting.ParseInvalidSignalPolicy(getEnv("INVALID_SIGNAL_POLICY", "abort"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INVALID_SIGNAL_POLICY: %v", err))
	}
	cfg.Engine.SlipLimitExits = getEnvAsBool("SLIP_LIMIT_EXITS", false)

	// Default risk levels for signals that carry none
	cfg.Engine.Risk = risk.RiskConfig{
		MaxUnits:          getEnvAsFloat("MAX_UNITS", 0),
		StopLossPercent:   getEnvAsFloat("DEFAULT_STOP_LOSS", 0),
		TakeProfitPercent: getEnvAsFloat("DEFAULT_TAKE_PROFIT", 0),
	}

	if err := cfg.Engine.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	// Input data
	cfg.BarsSource = strings.ToLower(getEnv("BARS_SOURCE", SourceCSV))
	switch cfg.BarsSource {
	case SourceCSV, SourceBinance, SourceClickHouse:
	default:
		errs = append(errs, fmt.Sprintf("BARS_SOURCE must be one of csv, binance, clickhouse, got %q", cfg.BarsSource))
	}
	cfg.BarsPath = getEnv("BARS_PATH", "")
	cfg.SignalsPath = getEnv("SIGNALS_PATH", "")
	cfg.Symbol = getEnv("SYMBOL", "BTCUSDT")
	cfg.Interval = getEnv("INTERVAL", "1h")
	cfg.BarLimit = getEnvAsInt("BAR_LIMIT", 1500)

	cfg.StartTime, err = getEnvAsTime("START_TIME")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid START_TIME: %v", err))
	}
	cfg.EndTime, err = getEnvAsTime("END_TIME")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid END_TIME: %v", err))
	}
	if !cfg.StartTime.IsZero() && !cfg.EndTime.IsZero() && !cfg.EndTime.After(cfg.StartTime) {
		errs = append(errs, "END_TIME must be after START_TIME")
	}

	// Sharpe annualization: explicit factor, else periods per year, else derived from the interval
	cfg.Annualization, err = annualization(cfg.Interval)
	if err != nil {
		errs = append(errs, err.Error())
	}

	// Binance API (public klines do not need keys)
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	// ClickHouse
	cfg.ClickHouseAddr = splitList(getEnv("CLICKHOUSE_ADDR", "localhost:9000"))
	cfg.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "backtest")
	cfg.ClickHouseTable = getEnv("CLICKHOUSE_TABLE", "data")
	cfg.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	cfg.ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", "")

	// Storage and output
	cfg.DBPath = getEnv("DB_PATH", "./data/backtests.db")
	cfg.OutputDir = getEnv("OUTPUT_DIR", "")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// ValidateRunInputs checks the settings a single backtest run needs beyond LoadConfig.
func (c *Config) ValidateRunInputs() error {
	var errs []string
	if c.SignalsPath == "" {
		errs = append(errs, "SIGNALS_PATH must be set")
	}
	switch c.BarsSource {
	case SourceCSV:
		if c.BarsPath == "" {
			errs = append(errs, "BARS_PATH must be set when BARS_SOURCE=csv")
		}
	case SourceBinance, SourceClickHouse:
		if c.Symbol == "" || c.Interval == "" {
			errs = append(errs, "SYMBOL and INTERVAL must be set")
		}
		if c.BarsSource == SourceClickHouse && len(c.ClickHouseAddr) == 0 {
			errs = append(errs, "CLICKHOUSE_ADDR must be set when BARS_SOURCE=clickhouse")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func annualization(interval string) (float64, error) {
	if v := os.Getenv("ANNUALIZATION_FACTOR"); v != "" {
		factor, err := strconv.ParseFloat(v, 64)
		if err != nil || factor <= 0 || math.IsInf(factor, 0) {
			return 0, fmt.Errorf("ANNUALIZATION_FACTOR must be a positive number, got %q", v)
		}
		return factor, nil
	}
	if v := os.Getenv("PERIODS_PER_YEAR"); v != "" {
		periods, err := strconv.ParseFloat(v, 64)
		if err != nil || periods <= 0 || math.IsInf(periods, 0) {
			return 0, fmt.Errorf("PERIODS_PER_YEAR must be a positive number, got %q", v)
		}
		return analytics.AnnualizationFactor(periods), nil
	}
	periods, err := analytics.PeriodsPerYear(interval)
	if err != nil {
		// Unknown interval: report the per-bar Sharpe ratio
		return 1, nil
	}
	return analytics.AnnualizationFactor(periods), nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsTime accepts RFC3339 or a plain date; unset yields the zero time.
func getEnvAsTime(key string) (time.Time, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Time{}, nil
	}
	return ParseTime(valueStr)
}

// ParseTime parses RFC3339, "2006-01-02 15:04:05" or "2006-01-02" in UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
