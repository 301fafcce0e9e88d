package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLConfig is the on-disk layout of pulse.yaml. Durations are written as
// strings ("15s") so that the file round-trips through viper.
type YAMLConfig struct {
	Environment string         `yaml:"environment"`
	Server      ServerYAML     `yaml:"server"`
	Database    DatabaseYAML   `yaml:"database"`
	Security    SecurityYAML   `yaml:"security"`
	APIKeys     APIKeyYAML     `yaml:"api_keys"`
	Metrics     MetricsYAML    `yaml:"metrics"`
	Cache       CacheYAML      `yaml:"cache"`
	Monitoring  MonitoringYAML `yaml:"monitoring"`
	Log         LogYAML        `yaml:"log"`
}

type ServerYAML struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     string   `yaml:"read_timeout"`
	WriteTimeout    string   `yaml:"write_timeout"`
	IdleTimeout     string   `yaml:"idle_timeout"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
	TrackRateLimit  int      `yaml:"track_rate_limit"`
	AuthRateLimit   int      `yaml:"auth_rate_limit"`
}

type DatabaseYAML struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
}

type SecurityYAML struct {
	SecretKey string       `yaml:"secret_key"`
	JWTTTL    string       `yaml:"jwt_ttl"`
	Argon2    Argon2Config `yaml:"argon2"`
}

type APIKeyYAML struct {
	Prefix             string `yaml:"prefix"`
	Length             int    `yaml:"length"`
	LookupPrefixLength int    `yaml:"lookup_prefix_length"`
	MaxPerProject      int    `yaml:"max_per_project"`
	DefaultExpiryDays  int    `yaml:"default_expiry_days"`
}

type MetricsYAML struct {
	RetentionDays   int    `yaml:"retention_days"`
	SweepInterval   string `yaml:"sweep_interval"`
	MaxWindowDays   int    `yaml:"max_window_days"`
	DefaultPageSize int    `yaml:"default_page_size"`
	MaxPageSize     int    `yaml:"max_page_size"`
}

type CacheYAML struct {
	Enabled       bool   `yaml:"enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTL           string `yaml:"ttl"`
}

type MonitoringYAML struct {
	ProjectID string `yaml:"project_id"`
}

type LogYAML struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const redacted = "********"

// ToYAML converts c to its file layout. Secrets are masked when redact is set.
func ToYAML(c Config, redact bool) YAMLConfig {
	y := YAMLConfig{
		Environment: c.Environment,
		Server: ServerYAML{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout.String(),
			WriteTimeout:    c.Server.WriteTimeout.String(),
			IdleTimeout:     c.Server.IdleTimeout.String(),
			ShutdownTimeout: c.Server.ShutdownTimeout.String(),
			CORSOrigins:     c.Server.CORSOrigins,
			TrackRateLimit:  c.Server.TrackRateLimit,
			AuthRateLimit:   c.Server.AuthRateLimit,
		},
		Database: DatabaseYAML{
			Driver:          c.Database.Driver,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime.String(),
			ConnMaxIdleTime: c.Database.ConnMaxIdleTime.String(),
		},
		Security: SecurityYAML{
			SecretKey: c.Security.SecretKey,
			JWTTTL:    c.Security.JWTTTL.String(),
			Argon2:    c.Security.Argon2,
		},
		APIKeys: APIKeyYAML(c.APIKeys),
		Metrics: MetricsYAML{
			RetentionDays:   c.Metrics.RetentionDays,
			SweepInterval:   c.Metrics.SweepInterval.String(),
			MaxWindowDays:   c.Metrics.MaxWindowDays,
			DefaultPageSize: c.Metrics.DefaultPageSize,
			MaxPageSize:     c.Metrics.MaxPageSize,
		},
		Cache: CacheYAML{
			Enabled:       c.Cache.Enabled,
			RedisAddr:     c.Cache.RedisAddr,
			RedisPassword: c.Cache.RedisPassword,
			RedisDB:       c.Cache.RedisDB,
			TTL:           c.Cache.TTL.String(),
		},
		Monitoring: MonitoringYAML{ProjectID: c.Monitoring.ProjectID},
		Log:        LogYAML{Level: c.Log.Level, Format: c.Log.Format},
	}

	if redact {
		if y.Security.SecretKey != "" {
			y.Security.SecretKey = redacted
		}
		if y.Cache.RedisPassword != "" {
			y.Cache.RedisPassword = redacted
		}
		y.Database.DSN = redactDSN(c.Database.Driver, c.Database.DSN)
	}
	return y
}

// Marshal renders c as YAML.
func Marshal(c Config, redact bool) ([]byte, error) {
	return yaml.Marshal(ToYAML(c, redact))
}

// ErrConfigExists is returned by WriteDefault when path exists and force is
// not set.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes the built-in configuration to path.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w (use --force to overwrite)", path, ErrConfigExists)
		}
	}

	data, err := Marshal(Default(), false)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	header := "# Pulse configuration. Every key can be overridden with a PULSE_ environment\n" +
		"# variable, e.g. PULSE_DATABASE_DSN or PULSE_SECURITY_SECRET_KEY.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// redactDSN hides the password of URL-style DSNs and of MySQL DSNs.
func redactDSN(driver, dsn string) string {
	if driver == "sqlite" {
		return dsn
	}
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	start := 0
	if i := strings.Index(dsn[:at], "://"); i >= 0 {
		start = i + 3
	}
	colon := strings.Index(dsn[start:at], ":")
	if colon < 0 {
		return dsn
	}
	return dsn[:start+colon+1] + redacted + dsn[at:]
}
