package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvTenantSalt, "env-salt")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Errorf("expected default port %d, got %d", defaultPort, cfg.Port)
	}
	if cfg.Security.KeyRotation.IntervalSeconds != defaultRotationIntervalSeconds {
		t.Errorf("unexpected rotation interval %d", cfg.Security.KeyRotation.IntervalSeconds)
	}
	if !cfg.Security.Session.SingleSignOn {
		t.Error("single sign-on must default to enabled")
	}
	if cfg.Security.TenantToken.Prefix != "KT_" || cfg.Security.OSSToken.Prefix != "OSS_" {
		t.Errorf("unexpected token prefixes %q %q", cfg.Security.TenantToken.Prefix, cfg.Security.OSSToken.Prefix)
	}
	if cfg.Security.TenantToken.Salt != "env-salt" {
		t.Error("tenant salt must come from the environment")
	}
	if cfg.Security.OSSToken.Salt != "env-salt" {
		t.Error("oss token salt must inherit the tenant salt")
	}
	if cfg.DSN == "" || cfg.RedisURL == "" {
		t.Error("dsn and redis url must be derived from defaults")
	}
}

func TestLoadYAMLOverridesAndEnvWins(t *testing.T) {
	t.Setenv(EnvTenantSalt, "env-salt")
	t.Setenv(EnvBootstrapSecret, "env-bootstrap")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	body := `
port: 9001
env: production
security:
  key_rotation:
    interval_seconds: 3600
    bootstrap_secret: file-bootstrap
  tenant_token:
    salt: file-salt
  session:
    single_sign_on: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("expected port 9001, got %d", cfg.Port)
	}
	if cfg.IsDev() {
		t.Error("env production must not report dev mode")
	}
	if cfg.Security.KeyRotation.IntervalSeconds != 3600 {
		t.Errorf("expected interval 3600, got %d", cfg.Security.KeyRotation.IntervalSeconds)
	}
	if cfg.Security.Session.SingleSignOn {
		t.Error("yaml must be able to disable single sign-on")
	}
	// Environment overrides beat file values for secrets.
	if cfg.Security.TenantToken.Salt != "env-salt" {
		t.Errorf("expected env salt to win, got %q", cfg.Security.TenantToken.Salt)
	}
	if cfg.Security.KeyRotation.BootstrapSecret != "env-bootstrap" {
		t.Errorf("expected env bootstrap secret to win, got %q", cfg.Security.KeyRotation.BootstrapSecret)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(EnvTenantSalt, "env-salt")

	cases := []struct {
		name string
		body string
	}{
		{"short key length", "security:\n  key_rotation:\n    key_length_bytes: 16\n"},
		{"zero max active keys", "security:\n  key_rotation:\n    max_active_keys: 0\n"},
		{"bad port", "port: 70000\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yml")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRequiresSalt(t *testing.T) {
	t.Setenv(EnvTenantSalt, "")

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error when no tenant salt is configured")
	}
}
