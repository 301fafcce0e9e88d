package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsemetrics/pulse/internal/config"
	"github.com/pulsemetrics/pulse/internal/connector"
	"github.com/pulsemetrics/pulse/internal/connector/sqlite"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/store"
	"github.com/pulsemetrics/pulse/internal/telemetry"
)

const testSecret = "test-secret-key-for-pulse"

type testEnv struct {
	store     *store.Store
	creds     *Credentials
	auth      *AuthService
	keys      *APIKeyService
	projects  *ProjectService
	metricSvc *MetricService
	sweeper   *Sweeper
	telemetry *telemetry.Metrics
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	st, err := store.New(conn)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fastArgon2 keeps hashing cheap in tests.
var fastArgon2 = config.Argon2Config{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithCache(t, nil)
}

func newTestEnvWithCache(t *testing.T, aggCache AggregateCache) *testEnv {
	t.Helper()
	st := newTestStore(t)
	cfg := config.Default()
	logger := slog.New(slog.DiscardHandler)
	tel := telemetry.New(prometheus.NewRegistry())

	passwords, err := NewPasswordHasher(fastArgon2)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	creds := NewCredentials(testSecret, cfg.APIKeys)
	keys := NewAPIKeyService(st, creds, cfg.APIKeys)
	auth := NewAuthService(st, creds, passwords, testSecret, cfg.Security.JWTTTL, tel, logger)
	metricSvc := NewMetricService(st, creds, aggCache, cfg.Metrics, tel, logger)
	t.Cleanup(func() {
		auth.Wait()
		metricSvc.Wait()
	})

	return &testEnv{
		store:     st,
		creds:     creds,
		auth:      auth,
		keys:      keys,
		projects:  NewProjectService(st, keys),
		metricSvc: metricSvc,
		sweeper:   NewSweeper(st, cfg.Metrics.RetentionDays, cfg.Metrics.SweepInterval, tel, logger),
		telemetry: tel,
	}
}

func (e *testEnv) registerUser(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := e.auth.Register(context.Background(), email, "correct horse battery", "Test User")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func (e *testEnv) createProject(t *testing.T, owner *model.User, name string) *model.CreatedProject {
	t.Helper()
	p, err := e.projects.Create(context.Background(), owner.ID, name, "")
	if err != nil {
		t.Fatalf("Create project: %v", err)
	}
	return p
}
