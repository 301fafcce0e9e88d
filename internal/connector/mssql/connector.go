package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/pulsemetrics/pulse/internal/connector"
	"github.com/pulsemetrics/pulse/internal/model"
)

// SQL Server error numbers.
const (
	errUniqueConstraint = 2627
	errUniqueIndex      = 2601
	errObjectExists     = 2714
	errIndexExists      = 1913
)

// MSSQLConnector implements connector.Connector for SQL Server databases.
type MSSQLConnector struct {
	db *sqlx.DB
}

// New creates a new MSSQLConnector.
func New() connector.Connector {
	return &MSSQLConnector{}
}

// Connect establishes a connection to the SQL Server database using the
// provided configuration and applies the pool settings.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := connector.Open("sqlserver", connector.SanitizeDSN("mssql", cfg.DSN), cfg)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server. sqlx maps it to
// @pN bind variables.
func (c *MSSQLConnector) DriverName() string { return "sqlserver" }

// Migrations returns the bootstrap DDL. T-SQL has no IF NOT EXISTS on
// CREATE TABLE, so each statement checks the catalog first.
func (c *MSSQLConnector) Migrations() []string {
	return []string{
		`IF OBJECT_ID(N'users', N'U') IS NULL
		CREATE TABLE users (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			email NVARCHAR(255) NOT NULL CONSTRAINT uq_users_email UNIQUE,
			password_hash NVARCHAR(255) NOT NULL,
			full_name NVARCHAR(255) NOT NULL DEFAULT '',
			is_active BIT NOT NULL DEFAULT 1,
			created_at DATETIME2(6) NOT NULL
		)`,

		`IF OBJECT_ID(N'projects', N'U') IS NULL
		CREATE TABLE projects (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			name NVARCHAR(100) NOT NULL,
			project_key NVARCHAR(128) NOT NULL CONSTRAINT uq_projects_key UNIQUE,
			description NVARCHAR(1000) NOT NULL DEFAULT '',
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			is_active BIT NOT NULL DEFAULT 1,
			created_at DATETIME2(6) NOT NULL,
			updated_at DATETIME2(6) NOT NULL,
			CONSTRAINT uq_projects_owner_name UNIQUE (owner_id, name)
		)`,

		`IF OBJECT_ID(N'api_keys', N'U') IS NULL
		CREATE TABLE api_keys (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			key_hash VARCHAR(64) NOT NULL CONSTRAINT uq_api_keys_hash UNIQUE,
			key_prefix VARCHAR(32) NOT NULL,
			name NVARCHAR(255) NOT NULL DEFAULT '',
			project_id VARCHAR(36) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			is_active BIT NOT NULL DEFAULT 1,
			expires_at DATETIME2(6) NULL,
			last_used_at DATETIME2(6) NULL,
			total_requests BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME2(6) NOT NULL
		)`,

		`IF OBJECT_ID(N'metrics', N'U') IS NULL
		CREATE TABLE metrics (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			project_id VARCHAR(36) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			url_path NVARCHAR(768) COLLATE Latin1_General_100_BIN2 NOT NULL,
			method VARCHAR(16) COLLATE Latin1_General_100_BIN2 NOT NULL,
			response_status_code INT NOT NULL,
			response_time_ms FLOAT NOT NULL,
			timestamp DATETIME2(6) NOT NULL,
			user_agent NVARCHAR(MAX) NULL,
			ip_hash VARCHAR(64) NULL
		)`,

		createIndex("idx_api_keys_prefix", "api_keys", "key_prefix"),
		createIndex("idx_api_keys_project_active", "api_keys", "project_id, is_active"),
		createIndex("idx_metrics_project_timestamp", "metrics", "project_id, timestamp"),
		createIndex("idx_metrics_project_path", "metrics", "project_id, url_path"),
		createIndex("idx_metrics_status_timestamp", "metrics", "response_status_code, timestamp"),
	}
}

func createIndex(name, table, columns string) string {
	return fmt.Sprintf(`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s'))
		CREATE INDEX %s ON %s(%s)`, name, table, name, table, columns)
}

// TimeBucket truncates the ISO 8601 rendering (style 126) of column and
// pads it back to a full RFC 3339 timestamp.
func (c *MSSQLConnector) TimeBucket(column string, g model.Granularity) string {
	switch g {
	case model.GranularityHour:
		return fmt.Sprintf("CONVERT(varchar(13), %s, 126) + ':00:00Z'", column)
	case model.GranularityDay:
		return fmt.Sprintf("CONVERT(varchar(10), %s, 126) + 'T00:00:00Z'", column)
	default:
		return fmt.Sprintf("CONVERT(varchar(16), %s, 126) + ':00Z'", column)
	}
}

// Paginate uses OFFSET/FETCH, which takes the offset first.
func (c *MSSQLConnector) Paginate(limit, offset int) (string, []interface{}) {
	return "OFFSET ? ROWS FETCH NEXT ? ROWS ONLY", []interface{}{offset, limit}
}

// SnapshotTxOptions returns nil. SNAPSHOT isolation needs a database
// option that cannot be assumed, so reads use the server default.
func (c *MSSQLConnector) SnapshotTxOptions() *sql.TxOptions { return nil }

// LockRow holds an update lock on the single row. UPDLOCK conflicts with
// itself, so a second locker waits for the first transaction to end.
func (c *MSSQLConnector) LockRow(table string) string {
	return fmt.Sprintf("SELECT id FROM %s WITH (UPDLOCK, ROWLOCK) WHERE id = ?", table)
}

func (c *MSSQLConnector) IsUniqueViolation(err error) bool {
	var msErr mssqldb.Error
	if !errors.As(err, &msErr) {
		return false
	}
	return msErr.Number == errUniqueConstraint || msErr.Number == errUniqueIndex
}

func (c *MSSQLConnector) IsAlreadyExists(err error) bool {
	var msErr mssqldb.Error
	if !errors.As(err, &msErr) {
		return false
	}
	return msErr.Number == errObjectExists || msErr.Number == errIndexExists
}
