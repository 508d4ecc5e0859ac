package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported directory dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Store is the user directory: authorities, roles, users and the junction
// tables between them. It also keeps a small key-value settings table.
type Store struct {
	db      *sqlx.DB
	dialect string
}

// NewStore creates a SQLite-backed store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(StoreConfig{Driver: DialectSQLite, DataDir: dataDir})
}

// Open connects to the directory database described by cfg and applies
// migrations.
func Open(cfg StoreConfig) (*Store, error) {
	dialect := cfg.Driver
	if dialect == "" {
		dialect = DialectSQLite
	}

	var (
		driverName string
		dsn        string
	)
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
		switch {
		case cfg.DSN != "":
			dsn = cfg.DSN
		case cfg.DataDir == "":
			dsn = ":memory:?_journal_mode=WAL"
		default:
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "customs.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case DialectPostgres:
		driverName = "pgx"
		dsn = cfg.DSN
	case DialectMySQL:
		driverName = "mysql"
		mc, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// Timestamps must scan into time.Time.
		mc.ParseTime = true
		mc.Loc = time.UTC
		// UPDATE must report matched rows, not changed rows.
		mc.ClientFoundRows = true
		dsn = mc.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if dialect != DialectSQLite && dsn == "" {
		return nil, fmt.Errorf("store driver %q requires a dsn", dialect)
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		// Enable foreign keys (off by default in SQLite).
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate directory database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind("SELECT value FROM settings WHERE name = ?"), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM settings WHERE name = ?"), key); err != nil {
		return fmt.Errorf("clear setting: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO settings (name, value) VALUES (?, ?)"), key, value); err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Dialect helpers
// ---------------------------------------------------------------------------

// insertReturningID runs an INSERT written with ? placeholders and returns
// the new row id. PostgreSQL has no LastInsertId, so it uses RETURNING.
func (s *Store) insertReturningID(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	if s.dialect == DialectPostgres {
		var id int64
		if err := sqlx.GetContext(ctx, q, &id, q.Rebind(query+" RETURNING id"), args...); err != nil {
			return 0, err
		}
		return id, nil
	}
	result, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// isUniqueViolation reports whether err is a unique constraint failure in
// any supported dialect.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rowsAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
