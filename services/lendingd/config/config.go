package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Database      string          `yaml:"database"`
	Catalog       string          `yaml:"catalog"`
	TLS           TLSConfig       `yaml:"tls"`
	Admin         AdminConfig     `yaml:"admin"`
	Oracle        OracleConfig    `yaml:"oracle"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	// Prices seeds the price book at boot, keyed by asset symbol.
	Prices map[string]string `yaml:"prices"`
	// ReserveFactorDefault applies to listed markets that do not set their own
	// reserve factor.
	ReserveFactorDefault string `yaml:"reserve_factor_default"`
	// Pauses lists scopes (e.g. "lending/ETH/borrow") paused at boot.
	Pauses []string `yaml:"pauses"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AdminConfig guards the operator endpoints.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token"`
}

// OracleConfig bounds how old an injected price may be.
type OracleConfig struct {
	MaxAge Duration `yaml:"max_age"`
}

// RateLimitConfig throttles API clients by remote address.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LogConfig controls the log level and optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

const (
	defaultListen            = ":7075"
	defaultDatabase          = "lendingd.sqlite"
	defaultOracleMaxAge      = 5 * time.Minute
	defaultRequestsPerMinute = 600
	defaultBurst             = 60
	defaultLogMaxSizeMB      = 100
	defaultLogMaxBackups     = 5
	defaultLogMaxAgeDays     = 14
	logFileEnv               = "LENDINGD_LOG_FILE"
	adminTokenEnv            = "LENDINGD_ADMIN_TOKEN"
)

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Config{}
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv(logFileEnv)); value != "" {
		cfg.Log.File = value
	}
	if value := strings.TrimSpace(os.Getenv(adminTokenEnv)); value != "" {
		cfg.Admin.BearerToken = value
	}
}

func applyDefaults(cfg *Config) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Database = strings.TrimSpace(cfg.Database)
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	cfg.Catalog = strings.TrimSpace(cfg.Catalog)
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Admin.BearerToken = strings.TrimSpace(cfg.Admin.BearerToken)
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = defaultOracleMaxAge
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = defaultLogMaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = defaultLogMaxBackups
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = defaultLogMaxAgeDays
	}
	if len(cfg.Prices) > 0 {
		normalized := make(map[string]string, len(cfg.Prices))
		for symbol, price := range cfg.Prices {
			normalized[strings.ToUpper(strings.TrimSpace(symbol))] = strings.TrimSpace(price)
		}
		cfg.Prices = normalized
	}
	pauses := make([]string, 0, len(cfg.Pauses))
	for _, scope := range cfg.Pauses {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			pauses = append(pauses, trimmed)
		}
	}
	cfg.Pauses = pauses
}

func (cfg Config) validate() error {
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if cfg.Oracle.MaxAge.Duration < 0 {
		return fmt.Errorf("oracle.max_age must be positive")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	if _, err := cfg.SeedPrices(); err != nil {
		return err
	}
	if _, err := cfg.DefaultReserveFactor(); err != nil {
		return err
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

// SeedPrice is one configured boot price.
type SeedPrice struct {
	Symbol string
	Price  decimal.Decimal
}

// SeedPrices parses the configured boot prices in symbol order.
func (cfg Config) SeedPrices() ([]SeedPrice, error) {
	symbols := make([]string, 0, len(cfg.Prices))
	for symbol := range cfg.Prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	out := make([]SeedPrice, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			return nil, fmt.Errorf("prices: empty symbol")
		}
		price, err := decimal.NewFromString(cfg.Prices[symbol])
		if err != nil {
			return nil, fmt.Errorf("prices.%s: %w", symbol, err)
		}
		if price.Sign() <= 0 {
			return nil, fmt.Errorf("prices.%s must be positive", symbol)
		}
		out = append(out, SeedPrice{Symbol: symbol, Price: price})
	}
	return out, nil
}

// DefaultReserveFactor parses reserve_factor_default, which must lie in [0,1].
func (cfg Config) DefaultReserveFactor() (decimal.Decimal, error) {
	raw := strings.TrimSpace(cfg.ReserveFactorDefault)
	if raw == "" {
		return decimal.Zero, nil
	}
	rf, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserve_factor_default: %w", err)
	}
	if rf.IsNegative() || rf.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("reserve_factor_default must be within [0,1]")
	}
	return rf, nil
}
