// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	ServiceName     string
	Env             string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	StoreBackend   string
	SessionBackend string
	CartBackend    string
	DatabaseURL    string
	MigrationsPath string
	Redis          RedisConfig
	SeedFile       string

	Pricing pricing.Policy

	ReservationTTL time.Duration
	SweepInterval  time.Duration

	Gateway GatewayConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GatewayConfig struct {
	KeyID       string
	KeySecret   string
	DeclineRate float64
}

// ValidationError lists every setting that failed to parse or is inconsistent.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: invalid settings: " + strings.Join(e.Problems, "; ")
}

// Load reads path with godotenv when it exists, then resolves every key from
// the environment. Variables already set in the environment win over the file.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	r := reader{lookup: os.LookupEnv}
	cfg := &Config{
		ServiceName:     r.str("SERVICE_NAME", "minishop-checkout"),
		Env:             r.str("ENV", "dev"),
		HTTPAddr:        r.str("HTTP_ADDR", ":8080"),
		ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),

		StoreBackend:   strings.ToLower(r.str("STORE_BACKEND", BackendMemory)),
		SessionBackend: strings.ToLower(r.str("SESSION_BACKEND", "")),
		CartBackend:    strings.ToLower(r.str("CART_BACKEND", BackendMemory)),
		DatabaseURL:    r.str("DATABASE_URL", ""),
		MigrationsPath: r.str("MIGRATIONS_PATH", "migrations"),
		Redis: RedisConfig{
			Addr:     r.str("REDIS_ADDR", "localhost:6379"),
			Password: r.str("REDIS_PASSWORD", ""),
			DB:       r.integer("REDIS_DB", 0),
		},
		SeedFile: r.str("SEED_FILE", ""),

		Pricing: pricing.Policy{
			Currency:              strings.ToUpper(r.str("CURRENCY", "INR")),
			TaxRate:               r.decimal("TAX_RATE", decimal.RequireFromString("0.18")),
			FreeShippingThreshold: int64(r.integer("FREE_SHIPPING_THRESHOLD", 500)),
			FlatShippingFee:       int64(r.integer("FLAT_SHIPPING_FEE", 0)),
			PriceTolerance:        r.decimal("PRICE_TOLERANCE", decimal.Zero),
		},

		ReservationTTL: r.duration("RESERVATION_TTL", 15*time.Minute),
		SweepInterval:  r.duration("SWEEP_INTERVAL", 30*time.Second),

		Gateway: GatewayConfig{
			KeyID:       r.str("GATEWAY_KEY_ID", "rzp_test_minishop"),
			KeySecret:   r.str("GATEWAY_KEY_SECRET", ""),
			DeclineRate: r.float("GATEWAY_DECLINE_RATE", 0),
		},
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = cfg.StoreBackend
	}

	cfg.validate(&r)
	if len(r.problems) > 0 {
		return nil, &ValidationError{Problems: r.problems}
	}
	return cfg, nil
}

func (c *Config) validate(r *reader) {
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		r.fail("STORE_BACKEND must be memory or postgres, got %q", c.StoreBackend)
	}
	switch c.SessionBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		r.fail("SESSION_BACKEND must be memory, redis or postgres, got %q", c.SessionBackend)
	}
	switch c.CartBackend {
	case BackendMemory, BackendRedis:
	default:
		r.fail("CART_BACKEND must be memory or redis, got %q", c.CartBackend)
	}
	if (c.StoreBackend == BackendPostgres || c.SessionBackend == BackendPostgres) && c.DatabaseURL == "" {
		r.fail("DATABASE_URL is required for the postgres backend")
	}
	if c.Gateway.KeySecret == "" {
		r.fail("GATEWAY_KEY_SECRET is required")
	}
	if c.Pricing.TaxRate.IsNegative() {
		r.fail("TAX_RATE must not be negative")
	}
	if c.Pricing.PriceTolerance.IsNegative() {
		r.fail("PRICE_TOLERANCE must not be negative")
	}
	if c.Pricing.FreeShippingThreshold < 0 || c.Pricing.FlatShippingFee < 0 {
		r.fail("shipping amounts must not be negative")
	}
	if c.Pricing.Currency == "" {
		r.fail("CURRENCY must not be empty")
	}
	if c.ReservationTTL <= 0 {
		r.fail("RESERVATION_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		r.fail("SWEEP_INTERVAL must be positive")
	}
	if c.Gateway.DeclineRate < 0 || c.Gateway.DeclineRate > 1 {
		r.fail("GATEWAY_DECLINE_RATE must be within [0,1]")
	}
}

type reader struct {
	lookup   func(string) (string, bool)
	problems []string
}

func (r *reader) fail(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail("%s: %q is not an integer", key, raw)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail("%s: %q is not a number", key, raw)
		return def
	}
	return f
}

func (r *reader) decimal(key string, def decimal.Decimal) decimal.Decimal {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		r.fail("%s: %q is not a decimal", key, raw)
		return def
	}
	return d
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail("%s: %q is not a duration", key, raw)
		return def
	}
	return d
}
