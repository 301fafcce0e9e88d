package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/connector"
)

// Store persists users, projects, API keys and metrics. Queries are written
// with "?" placeholders and rebound for the connected driver; everything
// else that differs between databases comes from the dialect.
type Store struct {
	db      *sqlx.DB
	dialect connector.Dialect
}

// New wraps an open connector and applies the bootstrap migrations.
func New(conn connector.Connector) (*Store, error) {
	s := newStore(conn.DB(), conn)
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func newStore(db *sqlx.DB, dialect connector.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.dialect.DriverName()
}

func (s *Store) migrate() error {
	for _, m := range s.dialect.Migrations() {
		if _, err := s.db.Exec(m); err != nil {
			if s.dialect.IsAlreadyExists(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// inTx runs fn inside a read-write transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.runTx(ctx, nil, fn)
}

// inReadTx runs fn inside a transaction that sees one consistent snapshot.
func (s *Store) inReadTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.runTx(ctx, s.dialect.SnapshotTxOptions(), fn)
}

func (s *Store) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rebind converts "?" placeholders to the driver's bindvar style.
func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// paginate appends the dialect's pagination clause to q.
func (s *Store) paginate(q string, args []interface{}, limit, offset int) (string, []interface{}) {
	clause, pageArgs := s.dialect.Paginate(limit, offset)
	return q + " " + clause, append(args, pageArgs...)
}

// classify maps driver errors onto the store sentinels.
func (s *Store) classify(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if s.dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// rowsAffected returns ErrNotFound when a write touched nothing.
func rowsAffected(op string, result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// now returns the current time in UTC at the microsecond precision every
// backend can store.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
