package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/config"
	"github.com/pulsemetrics/pulse/internal/connector"
	"github.com/pulsemetrics/pulse/internal/connector/mssql"
	"github.com/pulsemetrics/pulse/internal/connector/mysql"
	"github.com/pulsemetrics/pulse/internal/connector/postgres"
	"github.com/pulsemetrics/pulse/internal/connector/sqlite"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/server/middleware"
	"github.com/pulsemetrics/pulse/internal/service"
	"github.com/pulsemetrics/pulse/internal/store"
	"github.com/pulsemetrics/pulse/internal/telemetry"
)

// newRegistry creates a connector registry with all supported database drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("mssql", func() connector.Connector { return mssql.New() })
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	return registry
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// newLogger builds the process logger. Every record logged with a request
// context carries that request's ID.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(middleware.NewContextHandler(h))
}

// openStore connects to the configured database and applies the bootstrap
// migrations.
func openStore(cfg config.DatabaseConfig) (*store.Store, error) {
	conn, err := newRegistry().Open(connector.ConnectionConfig{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st, err := store.New(conn)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	return st, nil
}

// app holds the services shared by the server and the management commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	auth     *service.AuthService
	projects *service.ProjectService
	keys     *service.APIKeyService
	metrics  *service.MetricService
	sweeper  *service.Sweeper
}

// newApp opens the store and wires every service. tel and aggCache may be
// nil.
func newApp(cfg config.Config, logger *slog.Logger, tel *telemetry.Metrics, aggCache service.AggregateCache) (*app, error) {
	st, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	passwords, err := service.NewPasswordHasher(cfg.Security.Argon2)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	creds := service.NewCredentials(cfg.Security.SecretKey, cfg.APIKeys)
	keys := service.NewAPIKeyService(st, creds, cfg.APIKeys)
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		auth:     service.NewAuthService(st, creds, passwords, cfg.Security.SecretKey, cfg.Security.JWTTTL, tel, logger),
		projects: service.NewProjectService(st, keys),
		keys:     keys,
		metrics:  service.NewMetricService(st, creds, aggCache, cfg.Metrics, tel, logger),
		sweeper:  service.NewSweeper(st, cfg.Metrics.RetentionDays, cfg.Metrics.SweepInterval, tel, logger),
	}, nil
}

// openApp loads the configuration and opens the app for a management
// command. Logs go to stderr so stdout stays machine readable.
func openApp(stderr io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, newLogger(cfg.Log, stderr), nil, nil)
}

// Close waits for background writes and closes the store.
func (a *app) Close() {
	a.auth.Wait()
	a.metrics.Wait()
	a.store.Close()
}

// requireSecret refuses to mint API keys under a generated secret: the
// server would hash them with a different key and never accept them.
func (a *app) requireSecret() error {
	if a.cfg.GeneratedSecret {
		return errors.New("security.secret_key is not set; set PULSE_SECURITY_SECRET_KEY to the server's value before minting API keys")
	}
	return nil
}

func (a *app) userByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, errors.New("--user is required")
	}
	u, err := a.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no user with email %q", email)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// project resolves projectKey for the owner identified by email.
func (a *app) project(ctx context.Context, email, projectKey string) (*model.Project, error) {
	u, err := a.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	p, err := a.projects.Get(ctx, u.ID, projectKey)
	if err != nil {
		return nil, userError(err)
	}
	return p, nil
}

// userError strips the kind prefix from classified service errors.
func userError(err error) error {
	if err == nil || apperr.KindOf(err) == apperr.KindInternal {
		return err
	}
	return errors.New(apperr.Message(err))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
