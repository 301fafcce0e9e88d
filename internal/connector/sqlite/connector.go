package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pulsemetrics/pulse/internal/connector"
	"github.com/pulsemetrics/pulse/internal/model"
)

// defaultPragmas enable foreign keys (cascades depend on them), WAL and a
// busy timeout. _time_format=sqlite stores times as
// "YYYY-MM-DD HH:MM:SS.fff+00:00", which strftime understands and which
// sorts lexically in UTC.
const defaultPragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"

// SQLiteConnector implements connector.Connector for SQLite databases.
type SQLiteConnector struct {
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the SQLite database file named by the DSN, or ":memory:".
// The pool is pinned to one connection: an in-memory database exists per
// connection, and SQLite serializes writers anyway.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.ConnMaxLifetime = 0
	cfg.ConnMaxIdleTime = 0

	db, err := connector.Open("sqlite", WithPragmas(cfg.DSN), cfg)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}
	c.db = db
	return nil
}

// WithPragmas appends the default pragmas unless the DSN already sets
// query parameters.
func WithPragmas(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	if strings.Contains(dsn, "?") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	return dsn + "?" + defaultPragmas
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// Migrations returns the bootstrap DDL.
func (c *SQLiteConnector) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			project_key TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(owner_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			is_active INTEGER NOT NULL DEFAULT 1,
			expires_at DATETIME,
			last_used_at DATETIME,
			total_requests INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS metrics (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			url_path TEXT NOT NULL,
			method TEXT NOT NULL,
			response_status_code INTEGER NOT NULL,
			response_time_ms REAL NOT NULL,
			timestamp DATETIME NOT NULL,
			user_agent TEXT,
			ip_hash TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_project_active ON api_keys(project_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_project_timestamp ON metrics(project_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_project_path ON metrics(project_id, url_path)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_status_timestamp ON metrics(response_status_code, timestamp)`,
	}
}

// TimeBucket floors column with strftime.
func (c *SQLiteConnector) TimeBucket(column string, g model.Granularity) string {
	switch g {
	case model.GranularityHour:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT%%H:00:00Z', %s)", column)
	case model.GranularityDay:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT00:00:00Z', %s)", column)
	default:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT%%H:%%M:00Z', %s)", column)
	}
}

// Paginate uses LIMIT/OFFSET.
func (c *SQLiteConnector) Paginate(limit, offset int) (string, []interface{}) {
	return connector.LimitOffset(limit, offset)
}

// SnapshotTxOptions returns nil. A SQLite transaction already reads from a
// single snapshot, and the driver rejects isolation levels it does not know.
func (c *SQLiteConnector) SnapshotTxOptions() *sql.TxOptions { return nil }

// LockRow is a plain select. SQLite allows one writer at a time and the
// pool holds a single connection, so transactions never interleave.
func (c *SQLiteConnector) LockRow(table string) string {
	return fmt.Sprintf("SELECT id FROM %s WHERE id = ?", table)
}

// IsUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func (c *SQLiteConnector) IsUniqueViolation(err error) bool {
	return connector.ContainsAny(err, "unique constraint failed", "constraint failed: unique")
}

// IsAlreadyExists reports a DDL error for an object that already exists.
func (c *SQLiteConnector) IsAlreadyExists(err error) bool {
	return connector.ContainsAny(err, "already exists", "duplicate column")
}
