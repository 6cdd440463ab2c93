package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func validConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		DatabaseURL:  "postgres://localhost/shop",
		APIKeyPepper: "pepper",
		Payment:      PaymentConfig{ProviderURL: "http://provider", MaxAttempts: 5},
	}
}

// --- Tests ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "SHOP_DATABASE_URL"},
		{name: "missing provider", mutate: func(c *Config) { c.Payment.ProviderURL = "" }, wantErr: "SHOP_PAYMENT_PROVIDER_URL"},
		{name: "missing pepper", mutate: func(c *Config) { c.APIKeyPepper = "" }, wantErr: "SHOP_API_KEY_PEPPER"},
		{name: "negative attempts", mutate: func(c *Config) { c.Payment.MaxAttempts = -1 }, wantErr: "max attempts"},
		{name: "zero attempts disables", mutate: func(c *Config) { c.Payment.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		cfg      Config
		wantDB   string
		wantAddr string
	}{
		{
			name:     "platform database url",
			env:      map[string]string{"DATABASE_URL": "postgres://platform/db"},
			cfg:      Config{Addr: "0.0.0.0:8080"},
			wantDB:   "postgres://platform/db",
			wantAddr: "0.0.0.0:8080",
		},
		{
			name:     "explicit database url wins",
			env:      map[string]string{"DATABASE_URL": "postgres://platform/db"},
			cfg:      Config{Addr: "0.0.0.0:8080", DatabaseURL: "postgres://explicit/db"},
			wantDB:   "postgres://explicit/db",
			wantAddr: "0.0.0.0:8080",
		},
		{
			name:     "port overrides default addr",
			env:      map[string]string{"PORT": "9000"},
			cfg:      Config{Addr: "0.0.0.0:8080"},
			wantAddr: "0.0.0.0:9000",
		},
		{
			name:     "port ignored for custom addr",
			env:      map[string]string{"PORT": "9000"},
			cfg:      Config{Addr: "127.0.0.1:7000"},
			wantAddr: "127.0.0.1:7000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("PORT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := tt.cfg
			cfg.applyPlatformDefaults()
			assert.Equal(t, tt.wantDB, cfg.DatabaseURL)
			assert.Equal(t, tt.wantAddr, cfg.Addr)
		})
	}
}
