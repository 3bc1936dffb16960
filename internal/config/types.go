package config

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2330
	defaultEnv        = "development"

	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "kinder_core"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"

	defaultRedisHost = "localhost"
	defaultRedisPort = 6379
	defaultRedisDB   = 0

	// Key rotation defaults.
	defaultRotationIntervalSeconds = 604800 // 7 days
	defaultGracePeriodSeconds      = 86400  // 1 day
	defaultKeyLengthBytes          = 64
	defaultMaxActiveKeys           = 3
	defaultSigningAlgorithm        = "HS256"

	// Blacklist and token defaults.
	defaultBlacklistMaxEntries    = 100000
	defaultCleanupIntervalSeconds = 3600
	defaultSessionTTLSeconds      = 7200 // absolute session ceiling
	defaultIdleTimeoutSeconds     = 1800
	defaultTenantWindowSeconds    = 1800
	defaultOSSWindowSeconds       = 3600
	defaultValidityBufferSeconds  = 300
	defaultTenantTokenPrefix      = "KT_"
	defaultOSSTokenPrefix         = "OSS_"
	defaultAuditRetentionDays     = 90

	// EnvTenantSalt and EnvBootstrapSecret override the corresponding YAML
	// fields so secrets can stay out of the config file.
	EnvTenantSalt      = "KC_TENANT_SALT"
	EnvBootstrapSecret = "KC_BOOTSTRAP_SECRET"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int            `yaml:"port"`
	DSN            string         `yaml:"dsn"`
	RedisURL       string         `yaml:"redis_url"`
	Database       DatabaseConfig `yaml:"database"`
	Redis          RedisConfig    `yaml:"redis"`
	Env            string         `yaml:"env"` // "development" | "production"
	AllowedOrigins []string       `yaml:"allowed_origins"`
	Security       SecurityConfig `yaml:"security"`
	S3             S3Config       `yaml:"s3"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
	Loc      string `yaml:"loc"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SecurityConfig groups the token lifecycle settings.
type SecurityConfig struct {
	KeyRotation KeyRotationConfig `yaml:"key_rotation"`
	Blacklist   BlacklistConfig   `yaml:"blacklist"`
	Session     SessionConfig     `yaml:"session"`
	TenantToken TenantTokenConfig `yaml:"tenant_token"`
	OSSToken    TenantTokenConfig `yaml:"oss_token"`
	// AuditRetentionDays bounds the audit trail; pruned by cron.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

type KeyRotationConfig struct {
	IntervalSeconds    int    `yaml:"interval_seconds"`
	GracePeriodSeconds int    `yaml:"grace_period_seconds"`
	KeyLengthBytes     int    `yaml:"key_length_bytes"`
	MaxActiveKeys      int    `yaml:"max_active_keys"`
	Algorithm          string `yaml:"algorithm"`
	// BootstrapSecret seeds the very first signing key; overridable via
	// KC_BOOTSTRAP_SECRET.
	BootstrapSecret string `yaml:"bootstrap_secret"`
}

type BlacklistConfig struct {
	MaxEntries             int64 `yaml:"max_entries"`
	CleanupIntervalSeconds int   `yaml:"cleanup_interval_seconds"`
}

type SessionConfig struct {
	TTLSeconds         int  `yaml:"ttl_seconds"`
	IdleTimeoutSeconds int  `yaml:"idle_timeout_seconds"`
	SingleSignOn       bool `yaml:"single_sign_on"`
}

type TenantTokenConfig struct {
	WindowSeconds         int      `yaml:"window_seconds"`
	ValidityBufferSeconds int      `yaml:"validity_buffer_seconds"`
	Prefix                string   `yaml:"prefix"`
	Salt                  string   `yaml:"salt"`
	PublicPrefixes        []string `yaml:"public_prefixes"`
	BasePrefix            string   `yaml:"base_prefix"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool { return c.Env != "production" }
