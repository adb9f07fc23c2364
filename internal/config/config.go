// Package config loads server and CLI settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"

	devJWTSecret = "rentrecon-development-secret-do-not-use"
)

// DefaultCallbackSources are the gateway operator's published callback
// source addresses.
var DefaultCallbackSources = []string{
	"196.201.214.200",
	"196.201.214.206",
	"196.201.213.114",
	"196.201.214.207",
	"196.201.214.208",
	"196.201.213.44",
	"196.201.212.127",
	"196.201.212.138",
	"196.201.212.129",
	"196.201.212.136",
	"196.201.212.74",
	"196.201.212.69",
}

// Config holds all settings.
type Config struct {
	Env      string `validate:"oneof=production development test"`
	HTTPAddr string `validate:"required"`
	DBPath   string `validate:"required"`

	LogLevel  string `validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `validate:"omitempty,oneof=text json"`

	JWTSecret string        `validate:"required,min=16"`
	JWTTTL    time.Duration `validate:"gt=0"`

	Timezone string         `validate:"required"`
	Location *time.Location `validate:"-"`

	AutoMatchThreshold int `validate:"gte=1,lte=100"`
	ReconcilePageSize  int `validate:"gte=1,lte=1000"`

	// CallbackSources are the networks allowed to post gateway callbacks.
	CallbackSources    []netip.Prefix `validate:"-"`
	CallbackTrustProxy bool
	CallbackRateLimit  float64 `validate:"gt=0"`

	MPesa MPesa
}

// MPesa holds the push payment gateway credentials. Push payments are
// disabled when ConsumerKey is empty.
type MPesa struct {
	BaseURL        string `validate:"required_with=ConsumerKey,omitempty,url"`
	ConsumerKey    string
	ConsumerSecret string `validate:"required_with=ConsumerKey"`
	ShortCode      string `validate:"required_with=ConsumerKey,omitempty,numeric"`
	PassKey        string `validate:"required_with=ConsumerKey"`
	CallbackURL    string `validate:"required_with=ConsumerKey,omitempty,url"`
}

// Enabled reports whether gateway credentials are configured.
func (m MPesa) Enabled() bool {
	return m.ConsumerKey != ""
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

var validate = validator.New()

// Load reads an optional .env file and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Env:                strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "./data/rentrecon.db"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		Timezone:           getEnv("TIMEZONE", "Africa/Nairobi"),
		CallbackTrustProxy: getBool("CALLBACK_TRUST_PROXY", false, &errs),
		MPesa: MPesa{
			BaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("MPESA_SHORTCODE", ""),
			PassKey:        getEnv("MPESA_PASSKEY", ""),
			CallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),
		},
	}
	cfg.JWTTTL = getDuration("JWT_TTL", 24*time.Hour, &errs)
	cfg.AutoMatchThreshold = getInt("AUTO_MATCH_THRESHOLD", 80, &errs)
	cfg.ReconcilePageSize = getInt("RECONCILE_PAGE_SIZE", 100, &errs)
	cfg.CallbackRateLimit = getFloat("CALLBACK_RATE_LIMIT", 20, &errs)

	if cfg.JWTSecret == "" && cfg.Env != EnvProduction {
		slog.Warn("JWT_SECRET not set, using development secret")
		cfg.JWTSecret = devJWTSecret
	}

	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Location = loc

	sources, err := parseSources(getEnv("CALLBACK_ALLOWED_CIDRS", strings.Join(DefaultCallbackSources, ",")))
	if err != nil {
		errs = append(errs, err)
	}
	if cfg.Env != EnvProduction {
		sources = append(sources,
			netip.MustParsePrefix("127.0.0.0/8"),
			netip.MustParsePrefix("::1/128"),
		)
	}
	cfg.CallbackSources = sources

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getBool(key string, fallback bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

// loadLocation falls back to a fixed UTC+3 zone for Africa/Nairobi when the
// host has no zoneinfo database.
func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == "Africa/Nairobi" {
		return time.FixedZone("EAT", 3*60*60), nil
	}
	return nil, fmt.Errorf("TIMEZONE: %w", err)
}

// parseSources parses a comma-separated list of CIDR prefixes or bare addresses.
func parseSources(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("CALLBACK_ALLOWED_CIDRS: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("CALLBACK_ALLOWED_CIDRS: %w", err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
