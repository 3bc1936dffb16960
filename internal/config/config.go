package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path, applies defaults and env overrides,
// and validates the result. A missing file yields pure defaults.
func Load(path string) (*AppConfig, error) {
	cfg := defaultAppConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %q: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only; secrets must then arrive via environment.
	default:
		return nil, fmt.Errorf("read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseConfig{
			Host:     defaultDBHost,
			Port:     defaultDBPort,
			User:     defaultDBUser,
			Password: defaultDBPassword,
			Name:     defaultDBName,
			Charset:  defaultDBCharset,
			Loc:      defaultDBLoc,
		},
		Redis: RedisConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		Security: SecurityConfig{
			KeyRotation: KeyRotationConfig{
				IntervalSeconds:    defaultRotationIntervalSeconds,
				GracePeriodSeconds: defaultGracePeriodSeconds,
				KeyLengthBytes:     defaultKeyLengthBytes,
				MaxActiveKeys:      defaultMaxActiveKeys,
				Algorithm:          defaultSigningAlgorithm,
			},
			Blacklist: BlacklistConfig{
				MaxEntries:             defaultBlacklistMaxEntries,
				CleanupIntervalSeconds: defaultCleanupIntervalSeconds,
			},
			Session: SessionConfig{
				TTLSeconds:         defaultSessionTTLSeconds,
				IdleTimeoutSeconds: defaultIdleTimeoutSeconds,
				SingleSignOn:       true,
			},
			TenantToken: TenantTokenConfig{
				WindowSeconds:         defaultTenantWindowSeconds,
				ValidityBufferSeconds: defaultValidityBufferSeconds,
				Prefix:                defaultTenantTokenPrefix,
				PublicPrefixes:        []string{"system/", "games/"},
			},
			OSSToken: TenantTokenConfig{
				WindowSeconds:         defaultOSSWindowSeconds,
				ValidityBufferSeconds: defaultValidityBufferSeconds,
				Prefix:                defaultOSSTokenPrefix,
				PublicPrefixes:        []string{"system/", "games/"},
			},
			AuditRetentionDays: defaultAuditRetentionDays,
		},
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvTenantSalt)); v != "" {
		cfg.Security.TenantToken.Salt = v
		if cfg.Security.OSSToken.Salt == "" {
			cfg.Security.OSSToken.Salt = v
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvBootstrapSecret)); v != "" {
		cfg.Security.KeyRotation.BootstrapSecret = v
	}
}

func normalize(cfg *AppConfig) {
	if cfg.DSN == "" {
		cfg.DSN = cfg.Database.DSNValue()
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = cfg.Redis.URLValue()
	}
	// The OSS variant shares the tenant salt unless explicitly different.
	if cfg.Security.OSSToken.Salt == "" {
		cfg.Security.OSSToken.Salt = cfg.Security.TenantToken.Salt
	}
	if len(cfg.Security.OSSToken.PublicPrefixes) == 0 {
		cfg.Security.OSSToken.PublicPrefixes = cfg.Security.TenantToken.PublicPrefixes
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	if cfg.Security.TenantToken.Salt == "" {
		return fmt.Errorf("security.tenant_token.salt is required (or set %s)", EnvTenantSalt)
	}
	if cfg.Security.KeyRotation.KeyLengthBytes < 32 {
		return fmt.Errorf("security.key_rotation.key_length_bytes %d too small, expected >= 32", cfg.Security.KeyRotation.KeyLengthBytes)
	}
	if cfg.Security.KeyRotation.MaxActiveKeys < 1 {
		return fmt.Errorf("security.key_rotation.max_active_keys must be >= 1")
	}
	return nil
}
