package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/connector"
	"github.com/pulsemetrics/pulse/internal/model"
)

// PostgreSQL SQLSTATE codes.
const (
	codeUniqueViolation = "23505"
	codeDuplicateTable  = "42P07"
	codeDuplicateObject = "42710"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	db *sqlx.DB
}

// New creates a new PostgresConnector.
func New() connector.Connector {
	return &PostgresConnector{}
}

// Connect establishes a connection to the PostgreSQL database using the
// provided configuration and applies the pool settings.
func (c *PostgresConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := connector.Open("pgx", connector.SanitizeDSN("postgres", cfg.DSN), cfg)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the database/sql driver name registered by pgx.
func (c *PostgresConnector) DriverName() string { return "pgx" }

func (c *PostgresConnector) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			project_key TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (owner_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ,
			total_requests BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS metrics (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			url_path VARCHAR(768) COLLATE "C" NOT NULL,
			method VARCHAR(16) COLLATE "C" NOT NULL,
			response_status_code INTEGER NOT NULL,
			response_time_ms DOUBLE PRECISION NOT NULL,
			"timestamp" TIMESTAMPTZ NOT NULL,
			user_agent TEXT,
			ip_hash TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_project_active ON api_keys(project_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_project_timestamp ON metrics(project_id, "timestamp")`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_project_path ON metrics(project_id, url_path)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_status_timestamp ON metrics(response_status_code, "timestamp")`,
	}
}

// TimeBucket floors column with date_trunc in UTC and formats it with
// to_char.
func (c *PostgresConnector) TimeBucket(column string, g model.Granularity) string {
	field := "minute"
	switch g {
	case model.GranularityHour:
		field = "hour"
	case model.GranularityDay:
		field = "day"
	}
	return fmt.Sprintf(`to_char(date_trunc('%s', %s AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24:MI:SS"Z"')`, field, column)
}

// Paginate uses LIMIT/OFFSET.
func (c *PostgresConnector) Paginate(limit, offset int) (string, []interface{}) {
	return connector.LimitOffset(limit, offset)
}

// SnapshotTxOptions returns a read-only repeatable-read transaction.
func (c *PostgresConnector) SnapshotTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// LockRow uses SELECT ... FOR UPDATE.
func (c *PostgresConnector) LockRow(table string) string {
	return fmt.Sprintf("SELECT id FROM %s WHERE id = ? FOR UPDATE", table)
}

func (c *PostgresConnector) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

func (c *PostgresConnector) IsAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeDuplicateTable || pgErr.Code == codeDuplicateObject
}
