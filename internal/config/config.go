// Package config loads service configuration: built-in defaults, then an
// optional TOML file named by LEDGER_CONFIG, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/model"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`

	// Storage
	DatabaseURL string   `toml:"database_url"`
	RedisURL    string   `toml:"redis_url"`
	CacheTTL    Duration `toml:"cache_ttl"`

	// Auth
	JWTSecret string `toml:"jwt_secret"`

	// Recompute
	RecomputeInterval    Duration `toml:"recompute_interval"`
	RecomputeTimeout     Duration `toml:"recompute_timeout"`
	RecomputeConcurrency int      `toml:"recompute_concurrency"`
	RetentionWindow      Duration `toml:"retention_window"`

	// Dashboard
	Timezone string `toml:"timezone"`

	// Wallets seeded into an empty collection on startup.
	Wallets []WalletSeed `toml:"wallets"`

	// Products account holders may buy.
	Products []ProductOffer `toml:"products"`
}

// WalletSeed is one payout wallet created by bootstrap.
type WalletSeed struct {
	Name   string `toml:"name"`
	Number string `toml:"number"`
	Active bool   `toml:"active"`
}

// ProductOffer is one catalogue entry. Amounts are decimal strings.
type ProductOffer struct {
	Name          string          `toml:"name"`
	Price         decimal.Decimal `toml:"price"`
	Rate          decimal.Decimal `toml:"percentage"`
	ProfitCap     decimal.Decimal `toml:"total_profit"`
	PercentageCap decimal.Decimal `toml:"total_percentage"`
	PeriodDays    int             `toml:"period"`
}

// Duration decodes TOML strings like "30s" or "96h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DevJWTSecret is the built-in token secret. It is only accepted with the
// in-memory store.
const DevJWTSecret = "ledger-dev-secret-change-me"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                 8080,
		LogLevel:             "info",
		CacheTTL:             Duration{30 * time.Second},
		JWTSecret:            DevJWTSecret,
		RecomputeInterval:    Duration{5 * time.Minute},
		RecomputeTimeout:     Duration{2 * time.Minute},
		RecomputeConcurrency: 8,
		RetentionWindow:      Duration{96 * time.Hour},
		Timezone:             "Africa/Cairo",
		Wallets: []WalletSeed{
			{Name: "primary", Number: "0000000001", Active: true},
			{Name: "secondary", Number: "0000000002", Active: false},
		},
		Products: []ProductOffer{{
			Name:          "Standard",
			Price:         model.SignupProductPrice,
			Rate:          model.SignupProductRate,
			ProfitCap:     model.SignupProductProfitCap,
			PercentageCap: model.SignupProductPercentageCap,
			PeriodDays:    model.SignupProductPeriodDays,
		}},
	}
}

// Load builds the configuration from defaults, the file named by
// LEDGER_CONFIG (if set) and environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("LEDGER_CONFIG"))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.RecomputeConcurrency < 1 {
		return fmt.Errorf("config: recompute_concurrency must be at least 1, got %d", c.RecomputeConcurrency)
	}
	if c.RecomputeTimeout.Duration <= 0 {
		return fmt.Errorf("config: recompute_timeout must be positive")
	}
	if c.RetentionWindow.Duration <= 0 {
		return fmt.Errorf("config: retention_window must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	active := 0
	for _, w := range c.Wallets {
		if w.Name == "" {
			return fmt.Errorf("config: wallet with empty name")
		}
		if w.Active {
			active++
		}
	}
	if len(c.Wallets) > 0 && active != 1 {
		return fmt.Errorf("config: exactly one seed wallet must be active, got %d", active)
	}
	seen := make(map[string]bool, len(c.Products))
	for _, p := range c.Products {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		switch {
		case key == "":
			return fmt.Errorf("config: product with empty name")
		case seen[key]:
			return fmt.Errorf("config: duplicate product %q", p.Name)
		case !p.Price.IsPositive():
			return fmt.Errorf("config: product %q: price must be positive", p.Name)
		case p.Rate.IsNegative():
			return fmt.Errorf("config: product %q: percentage must not be negative", p.Name)
		case !p.ProfitCap.IsPositive():
			return fmt.Errorf("config: product %q: total_profit must be positive", p.Name)
		case p.PeriodDays < 0:
			return fmt.Errorf("config: product %q: period must not be negative", p.Name)
		}
		seen[key] = true
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: jwt_secret must be set")
	}
	if c.DatabaseURL != "" && c.JWTSecret == DevJWTSecret {
		return fmt.Errorf("config: jwt_secret is the development default; set JWT_SECRET before using a database")
	}
	return nil
}

// Catalogue returns the configured products as domain offers.
func (c *Config) Catalogue() []model.Offer {
	out := make([]model.Offer, 0, len(c.Products))
	for _, p := range c.Products {
		out = append(out, model.Offer{
			Name:          strings.TrimSpace(p.Name),
			Price:         p.Price,
			Rate:          p.Rate,
			ProfitCap:     p.ProfitCap,
			PercentageCap: p.PercentageCap,
			PeriodDays:    p.PeriodDays,
		})
	}
	return out
}

// Seeds returns the configured wallets as domain values.
func (c *Config) Seeds() []model.Wallet {
	out := make([]model.Wallet, 0, len(c.Wallets))
	for _, w := range c.Wallets {
		out = append(out, model.Wallet{Name: w.Name, Number: w.Number, Active: w.Active})
	}
	return out
}

// Location resolves Timezone. Validate has already checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyEnv(c *Config) {
	c.Port = getEnvInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.CacheTTL.Duration = getEnvDuration("CACHE_TTL", c.CacheTTL.Duration)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.RecomputeInterval.Duration = getEnvDuration("RECOMPUTE_INTERVAL", c.RecomputeInterval.Duration)
	c.RecomputeTimeout.Duration = getEnvDuration("RECOMPUTE_TIMEOUT", c.RecomputeTimeout.Duration)
	c.RecomputeConcurrency = getEnvInt("RECOMPUTE_CONCURRENCY", c.RecomputeConcurrency)
	c.RetentionWindow.Duration = getEnvDuration("RETENTION_WINDOW", c.RetentionWindow.Duration)
	c.Timezone = getEnv("TIMEZONE", c.Timezone)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
