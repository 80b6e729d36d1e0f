package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/careflow_test")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("default env must be development")
	}
	if cfg.LedgerMaxRetries != 5 {
		t.Errorf("LedgerMaxRetries = %d, want 5", cfg.LedgerMaxRetries)
	}
	if cfg.DefaultTenant != "default" {
		t.Errorf("DefaultTenant = %q, want default", cfg.DefaultTenant)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestValidateRequiresJWTSecretOutsideDev(t *testing.T) {
	cfg := &Config{Env: "production", LedgerMaxRetries: 5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for production without JWT_SECRET")
	}
	cfg.JWTSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsZeroRetries(t *testing.T) {
	cfg := &Config{Env: "development", LedgerMaxRetries: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero retry bound")
	}
}
