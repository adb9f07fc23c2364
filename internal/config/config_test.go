package config

import (
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"APP_ENV", "HTTP_ADDR", "DB_PATH", "LOG_LEVEL", "LOG_FORMAT", "JWT_SECRET",
	"JWT_TTL", "TIMEZONE", "AUTO_MATCH_THRESHOLD", "RECONCILE_PAGE_SIZE",
	"CALLBACK_ALLOWED_CIDRS", "CALLBACK_TRUST_PROXY", "CALLBACK_RATE_LIMIT",
	"MPESA_BASE_URL", "MPESA_CONSUMER_KEY", "MPESA_CONSUMER_SECRET",
	"MPESA_SHORTCODE", "MPESA_PASSKEY", "MPESA_CALLBACK_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Env != EnvDevelopment || cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected defaults: env=%q addr=%q", cfg.Env, cfg.HTTPAddr)
	}
	if cfg.JWTSecret != devJWTSecret {
		t.Errorf("expected development secret outside production")
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Errorf("JWTTTL = %v", cfg.JWTTTL)
	}
	if cfg.AutoMatchThreshold != 80 || cfg.ReconcilePageSize != 100 {
		t.Errorf("threshold=%d page=%d", cfg.AutoMatchThreshold, cfg.ReconcilePageSize)
	}
	if cfg.MPesa.Enabled() {
		t.Error("gateway should be disabled without credentials")
	}
	if got := len(cfg.CallbackSources); got != len(DefaultCallbackSources)+2 {
		t.Errorf("expected defaults plus loopback, got %d prefixes", got)
	}
	if !slices.Contains(cfg.CallbackSources, netip.MustParsePrefix("196.201.214.200/32")) {
		t.Error("missing default callback source")
	}
	_, offset := time.Date(2025, 6, 1, 0, 0, 0, 0, cfg.Location).Zone()
	if offset != 3*60*60 {
		t.Errorf("expected UTC+3, got offset %d", offset)
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantErr      string
		validateFunc func(t *testing.T, cfg *Config)
	}{
		{
			name:    "production requires secret",
			env:     map[string]string{"APP_ENV": "production"},
			wantErr: "JWTSecret",
		},
		{
			name: "production omits loopback",
			env: map[string]string{
				"APP_ENV":                "production",
				"JWT_SECRET":             "0123456789abcdef0123",
				"CALLBACK_ALLOWED_CIDRS": "10.0.0.0/8, 192.168.1.7",
			},
			validateFunc: func(t *testing.T, cfg *Config) {
				want := []netip.Prefix{
					netip.MustParsePrefix("10.0.0.0/8"),
					netip.MustParsePrefix("192.168.1.7/32"),
				}
				if !slices.Equal(cfg.CallbackSources, want) {
					t.Errorf("CallbackSources = %v, want %v", cfg.CallbackSources, want)
				}
			},
		},
		{
			name:    "bad cidr",
			env:     map[string]string{"CALLBACK_ALLOWED_CIDRS": "not-an-ip"},
			wantErr: "CALLBACK_ALLOWED_CIDRS",
		},
		{
			name:    "bad threshold",
			env:     map[string]string{"AUTO_MATCH_THRESHOLD": "high"},
			wantErr: "AUTO_MATCH_THRESHOLD",
		},
		{
			name:    "threshold out of range",
			env:     map[string]string{"AUTO_MATCH_THRESHOLD": "150"},
			wantErr: "AutoMatchThreshold",
		},
		{
			name:    "unknown timezone",
			env:     map[string]string{"TIMEZONE": "Mars/Olympus"},
			wantErr: "TIMEZONE",
		},
		{
			name:    "partial gateway credentials",
			env:     map[string]string{"MPESA_CONSUMER_KEY": "key"},
			wantErr: "ConsumerSecret",
		},
		{
			name: "gateway enabled",
			env: map[string]string{
				"MPESA_CONSUMER_KEY":    "key",
				"MPESA_CONSUMER_SECRET": "secret",
				"MPESA_SHORTCODE":       "174379",
				"MPESA_PASSKEY":         "passkey",
				"MPESA_CALLBACK_URL":    "https://rent.example.com/callbacks/mpesa/stk",
			},
			validateFunc: func(t *testing.T, cfg *Config) {
				if !cfg.MPesa.Enabled() {
					t.Error("expected gateway enabled")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := FromEnv()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromEnv failed: %v", err)
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, cfg)
			}
		})
	}
}
