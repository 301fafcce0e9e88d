package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the immutable runtime configuration, built once at startup by
// Load and passed by value to every component.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Security    SecurityConfig   `mapstructure:"security"`
	APIKeys     APIKeyConfig     `mapstructure:"api_keys"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
	Log         LogConfig        `mapstructure:"log"`

	// GeneratedSecret is set when no secret key was configured and a random
	// one was generated for this process.
	GeneratedSecret bool `mapstructure:"-"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// TrackRateLimit is the number of /track requests allowed per API key
	// per minute. Zero disables the limit.
	TrackRateLimit int `mapstructure:"track_rate_limit"`
	// AuthRateLimit is the number of login/register requests allowed per IP
	// per minute. Zero disables the limit.
	AuthRateLimit int `mapstructure:"auth_rate_limit"`
}

// DatabaseConfig selects the metrics database and its pool.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// SecurityConfig holds the server secret and password hashing parameters.
type SecurityConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl"`
	Argon2    Argon2Config  `mapstructure:"argon2"`
}

// Argon2Config mirrors argon2id.Params.
type Argon2Config struct {
	Memory      uint32 `mapstructure:"memory" yaml:"memory"`
	Iterations  uint32 `mapstructure:"iterations" yaml:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism" yaml:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length" yaml:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length" yaml:"key_length"`
}

// APIKeyConfig shapes generated API keys.
type APIKeyConfig struct {
	Prefix             string `mapstructure:"prefix"`
	Length             int    `mapstructure:"length"`
	LookupPrefixLength int    `mapstructure:"lookup_prefix_length"`
	MaxPerProject      int    `mapstructure:"max_per_project"`
	DefaultExpiryDays  int    `mapstructure:"default_expiry_days"`
}

// MetricsConfig bounds queries and retention.
type MetricsConfig struct {
	RetentionDays   int           `mapstructure:"retention_days"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MaxWindowDays   int           `mapstructure:"max_window_days"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
}

// CacheConfig enables the Redis read-through cache for aggregations.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// MonitoringConfig names the project that receives the server's own
// request metrics. Empty disables self-monitoring.
type MonitoringConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
			TrackRateLimit:  600,
			AuthRateLimit:   20,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "pulse.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		},
		Security: SecurityConfig{
			JWTTTL: 60 * time.Minute,
			Argon2: Argon2Config{
				Memory:      64 * 1024,
				Iterations:  1,
				Parallelism: 2,
				SaltLength:  16,
				KeyLength:   32,
			},
		},
		APIKeys: APIKeyConfig{
			Prefix:             "sk_live_",
			Length:             32,
			LookupPrefixLength: 20,
			MaxPerProject:      10,
			DefaultExpiryDays:  60,
		},
		Metrics: MetricsConfig{
			RetentionDays:   90,
			SweepInterval:   time.Hour,
			MaxWindowDays:   60,
			DefaultPageSize: 1000,
			MaxPageSize:     10000,
		},
		Cache: CacheConfig{
			RedisAddr: "localhost:6379",
			TTL:       30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers Default() with v so that every key is known to
// viper, which AutomaticEnv needs to resolve nested keys from the
// environment during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("environment", d.Environment)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.track_rate_limit", d.Server.TrackRateLimit)
	v.SetDefault("server.auth_rate_limit", d.Server.AuthRateLimit)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)

	v.SetDefault("security.secret_key", "")
	v.SetDefault("security.jwt_ttl", d.Security.JWTTTL)
	v.SetDefault("security.argon2.memory", d.Security.Argon2.Memory)
	v.SetDefault("security.argon2.iterations", d.Security.Argon2.Iterations)
	v.SetDefault("security.argon2.parallelism", d.Security.Argon2.Parallelism)
	v.SetDefault("security.argon2.salt_length", d.Security.Argon2.SaltLength)
	v.SetDefault("security.argon2.key_length", d.Security.Argon2.KeyLength)

	v.SetDefault("api_keys.prefix", d.APIKeys.Prefix)
	v.SetDefault("api_keys.length", d.APIKeys.Length)
	v.SetDefault("api_keys.lookup_prefix_length", d.APIKeys.LookupPrefixLength)
	v.SetDefault("api_keys.max_per_project", d.APIKeys.MaxPerProject)
	v.SetDefault("api_keys.default_expiry_days", d.APIKeys.DefaultExpiryDays)

	v.SetDefault("metrics.retention_days", d.Metrics.RetentionDays)
	v.SetDefault("metrics.sweep_interval", d.Metrics.SweepInterval)
	v.SetDefault("metrics.max_window_days", d.Metrics.MaxWindowDays)
	v.SetDefault("metrics.default_page_size", d.Metrics.DefaultPageSize)
	v.SetDefault("metrics.max_page_size", d.Metrics.MaxPageSize)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("monitoring.project_id", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load builds a validated Config from v. Defaults must already be
// registered with SetDefaults.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))

	if cfg.Security.SecretKey == "" {
		if cfg.IsProduction() {
			return Config{}, fmt.Errorf("security.secret_key is required in production (set PULSE_SECURITY_SECRET_KEY)")
		}
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.Security.SecretKey = secret
		cfg.GeneratedSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database.driver is required")
	}
	if c.Security.JWTTTL <= 0 {
		return fmt.Errorf("security.jwt_ttl must be positive")
	}
	if c.APIKeys.Length < 16 {
		return fmt.Errorf("api_keys.length must be at least 16")
	}
	if c.APIKeys.LookupPrefixLength <= len(c.APIKeys.Prefix) ||
		c.APIKeys.LookupPrefixLength >= len(c.APIKeys.Prefix)+c.APIKeys.Length {
		return fmt.Errorf("api_keys.lookup_prefix_length must cover part, but not all, of the random key body")
	}
	if c.Metrics.RetentionDays < 1 {
		return fmt.Errorf("metrics.retention_days must be at least 1")
	}
	if c.Metrics.MaxWindowDays < 1 {
		return fmt.Errorf("metrics.max_window_days must be at least 1")
	}
	if c.Metrics.DefaultPageSize < 1 || c.Metrics.DefaultPageSize > c.Metrics.MaxPageSize {
		return fmt.Errorf("metrics.default_page_size must be between 1 and metrics.max_page_size")
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when the cache is enabled")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Addr returns host:port for the HTTP listener.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
