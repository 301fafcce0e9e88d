package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pulsemetrics/pulse/internal/model"
)

// setupEnv points the CLI at a fresh SQLite file with a fixed secret and
// cheap password hashing.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PULSE_DATABASE_DRIVER", "sqlite")
	t.Setenv("PULSE_DATABASE_DSN", filepath.Join(dir, "pulse.db"))
	t.Setenv("PULSE_SECURITY_SECRET_KEY", "cli-test-secret")
	t.Setenv("PULSE_SECURITY_ARGON2_MEMORY", "1024")
	t.Setenv("PULSE_SECURITY_ARGON2_PARALLELISM", "1")
	t.Setenv("PULSE_LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("1.2.3", "abc123", "2026-01-01")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("pulse %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestVersion(t *testing.T) {
	appVersion = "1.2.3"

	out := mustRun(t, "version", "--short")
	if strings.TrimSpace(out) != "v1.2.3" {
		t.Errorf("short version = %q, want v1.2.3", out)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(mustRun(t, "version", "--json")), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Commit != "abc123" || info.Built != "2026-01-01" {
		t.Errorf("info = %+v", info)
	}
}

func TestUserProjectKeyWorkflow(t *testing.T) {
	setupEnv(t)

	out := mustRun(t, "user", "create", "--email", "Ops@Example.com", "--password", "long enough password", "--name", "Ops")
	if !strings.Contains(out, "ops@example.com") {
		t.Errorf("user create output = %q", out)
	}

	out = mustRun(t, "user", "list")
	if !strings.Contains(out, "ops@example.com") {
		t.Errorf("user list output = %q", out)
	}

	var created model.CreatedProject
	out = mustRun(t, "project", "create", "--user", "ops@example.com", "--name", "Shop API", "--json")
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode project: %v\n%s", err, out)
	}
	if !strings.HasPrefix(created.ProjectKey, "shop-api-") {
		t.Errorf("project key = %q", created.ProjectKey)
	}
	if !strings.HasPrefix(created.APIKey.Key, "sk_live_") {
		t.Errorf("first key = %q", created.APIKey.Key)
	}

	out = mustRun(t, "project", "list", "--user", "ops@example.com")
	if !strings.Contains(out, created.ProjectKey) {
		t.Errorf("project list output = %q", out)
	}

	var issued model.IssuedAPIKey
	out = mustRun(t, "key", "create", created.ProjectKey, "--user", "ops@example.com", "--name", "ci", "--json")
	if err := json.Unmarshal([]byte(out), &issued); err != nil {
		t.Fatalf("decode key: %v\n%s", err, out)
	}

	var keys []model.APIKey
	out = mustRun(t, "key", "list", created.ProjectKey, "--user", "ops@example.com", "--json")
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}

	var rotated model.IssuedAPIKey
	out = mustRun(t, "key", "rotate", created.ProjectKey, issued.ID, "--user", "ops@example.com", "--json")
	if err := json.Unmarshal([]byte(out), &rotated); err != nil {
		t.Fatalf("decode rotated: %v", err)
	}
	if rotated.Key == issued.Key {
		t.Error("rotate returned the old key")
	}

	mustRun(t, "key", "revoke", created.ProjectKey, rotated.ID, "--user", "ops@example.com")
	mustRun(t, "key", "delete", created.ProjectKey, issued.ID, "--user", "ops@example.com")

	if _, err := runCLI(t, "key", "delete", created.ProjectKey, created.APIKey.ID, "--user", "ops@example.com"); err == nil {
		t.Error("expected error deleting the last active key")
	}

	mustRun(t, "project", "delete", created.ProjectKey, "--user", "ops@example.com")
	out = mustRun(t, "project", "list", "--user", "ops@example.com")
	if strings.Contains(out, created.ProjectKey) {
		t.Errorf("deleted project still listed: %q", out)
	}
}

func TestProjectCommandsScopedToOwner(t *testing.T) {
	setupEnv(t)

	mustRun(t, "user", "create", "--email", "a@example.com", "--password", "long enough password")
	mustRun(t, "user", "create", "--email", "b@example.com", "--password", "long enough password")

	var created model.CreatedProject
	out := mustRun(t, "project", "create", "--user", "a@example.com", "--name", "Private", "--json")
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	_, err := runCLI(t, "key", "list", created.ProjectKey, "--user", "b@example.com")
	if err == nil || !strings.Contains(err.Error(), "Project not found") {
		t.Errorf("err = %v, want Project not found", err)
	}

	if _, err := runCLI(t, "project", "list", "--user", "nobody@example.com"); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestUserDeactivate(t *testing.T) {
	setupEnv(t)

	mustRun(t, "user", "create", "--email", "gone@example.com", "--password", "long enough password")
	mustRun(t, "user", "deactivate", "gone@example.com")

	var users []model.User
	if err := json.Unmarshal([]byte(mustRun(t, "user", "list", "--json")), &users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 1 || users[0].IsActive {
		t.Errorf("users = %+v", users)
	}
}

func TestMintingRequiresSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("PULSE_SECURITY_SECRET_KEY", "")

	mustRun(t, "user", "create", "--email", "ops@example.com", "--password", "long enough password")
	_, err := runCLI(t, "project", "create", "--user", "ops@example.com", "--name", "shop")
	if err == nil || !strings.Contains(err.Error(), "secret_key") {
		t.Errorf("err = %v, want secret_key error", err)
	}
}

func TestCleanup(t *testing.T) {
	setupEnv(t)

	out := mustRun(t, "cleanup", "--days", "30")
	if !strings.Contains(out, "Deleted 0 metrics older than 30 days") {
		t.Errorf("cleanup output = %q", out)
	}
	if _, err := runCLI(t, "cleanup", "--days", "0"); err == nil {
		t.Error("expected error for --days 0")
	}
}

func TestOpenAPIToFile(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "openapi.json")

	mustRun(t, "openapi", "--base-url", "https://pulse.example.com", "-o", path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
	if !strings.Contains(string(data), "/api/v1/track") {
		t.Error("document missing /api/v1/track")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "pulse.yaml")

	mustRun(t, "config", "init", "--path", path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--path", path); err == nil {
		t.Error("expected error when the file exists")
	}
	mustRun(t, "config", "init", "--path", path, "--force")

	out := mustRun(t, "config", "show")
	if strings.Contains(out, "cli-test-secret") {
		t.Error("config show leaked the secret key")
	}
	if !strings.Contains(out, "retention_days") {
		t.Errorf("config show output = %q", out)
	}
}

func TestMCPRejectsUnknownTransport(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "mcp", "--user", "ops@example.com", "--transport", "carrier-pigeon")
	if err == nil || !strings.Contains(err.Error(), "unsupported transport") {
		t.Errorf("err = %v", err)
	}
}

func TestStatusUnreachable(t *testing.T) {
	setupEnv(t)

	if _, err := runCLI(t, "status", "--url", "http://127.0.0.1:1/health"); err == nil {
		t.Error("expected error for unreachable server")
	}
}
