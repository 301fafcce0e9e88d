package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/connector"
	"github.com/pulsemetrics/pulse/internal/model"
)

// MySQL server error numbers.
const (
	errDupEntry     = 1062
	errTableExists  = 1050
	errDupFieldName = 1060
	errDupKeyName   = 1061
)

// MySQLConnector implements connector.Connector for MySQL databases.
type MySQLConnector struct {
	db *sqlx.DB
}

// New creates a new MySQLConnector.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect establishes a connection to the MySQL database. DATETIME columns
// must come back as UTC time.Time values, so parseTime and loc are forced.
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}

	db, err := connector.Open("mysql", dsn, cfg)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	c.db = db
	return nil
}

func normalizeDSN(dsn string) (string, error) {
	parsed, err := mysqldriver.ParseDSN(connector.SanitizeDSN("mysql", dsn))
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

// Disconnect closes the database connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// Migrations returns the bootstrap DDL. MySQL has no CREATE INDEX IF NOT
// EXISTS, so indexes are declared inside the table definitions. Metric paths
// and methods use a binary collation: URL paths are case-sensitive.
func (c *MySQLConnector) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id CHAR(36) NOT NULL PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			full_name VARCHAR(255) NOT NULL DEFAULT '',
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_users_email (email)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS projects (
			id CHAR(36) NOT NULL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			project_key VARCHAR(128) NOT NULL,
			description TEXT NOT NULL,
			owner_id CHAR(36) NOT NULL,
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_projects_key (project_key),
			UNIQUE KEY uq_projects_owner_name (owner_id, name),
			CONSTRAINT fk_projects_owner FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id CHAR(36) NOT NULL PRIMARY KEY,
			key_hash CHAR(64) NOT NULL,
			key_prefix VARCHAR(32) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			project_id CHAR(36) NOT NULL,
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			expires_at DATETIME(6) NULL,
			last_used_at DATETIME(6) NULL,
			total_requests BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_api_keys_hash (key_hash),
			KEY idx_api_keys_prefix (key_prefix),
			KEY idx_api_keys_project_active (project_id, is_active),
			CONSTRAINT fk_api_keys_project FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS metrics (
			id CHAR(36) NOT NULL PRIMARY KEY,
			project_id CHAR(36) NOT NULL,
			url_path VARCHAR(768) COLLATE utf8mb4_bin NOT NULL,
			method VARCHAR(16) COLLATE utf8mb4_bin NOT NULL,
			response_status_code INT NOT NULL,
			response_time_ms DOUBLE NOT NULL,
			timestamp DATETIME(6) NOT NULL,
			user_agent TEXT NULL,
			ip_hash VARCHAR(64) NULL,
			KEY idx_metrics_project_timestamp (project_id, timestamp),
			KEY idx_metrics_project_path (project_id, url_path(255)),
			KEY idx_metrics_status_timestamp (response_status_code, timestamp),
			CONSTRAINT fk_metrics_project FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
}

// TimeBucket floors column with DATE_FORMAT. Values are stored in UTC.
func (c *MySQLConnector) TimeBucket(column string, g model.Granularity) string {
	switch g {
	case model.GranularityHour:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%dT%%H:00:00Z')", column)
	case model.GranularityDay:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%dT00:00:00Z')", column)
	default:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%dT%%H:%%i:00Z')", column)
	}
}

// Paginate uses LIMIT/OFFSET.
func (c *MySQLConnector) Paginate(limit, offset int) (string, []interface{}) {
	return connector.LimitOffset(limit, offset)
}

// SnapshotTxOptions returns a read-only repeatable-read transaction, which
// is InnoDB's consistent snapshot.
func (c *MySQLConnector) SnapshotTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// LockRow uses SELECT ... FOR UPDATE, which takes an exclusive InnoDB
// record lock.
func (c *MySQLConnector) LockRow(table string) string {
	return fmt.Sprintf("SELECT id FROM %s WHERE id = ? FOR UPDATE", table)
}

func (c *MySQLConnector) IsUniqueViolation(err error) bool {
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupEntry
}

func (c *MySQLConnector) IsAlreadyExists(err error) bool {
	var myErr *mysqldriver.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case errTableExists, errDupFieldName, errDupKeyName:
		return true
	}
	return false
}
