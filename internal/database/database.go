package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gearshare/internal/config"
	"gearshare/internal/domain"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every repository statement. It runs against the pool for DB
// and against the open transaction for Tx.
type queries struct {
	conn    querier
	dialect Dialect
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.conn.ExecContext(ctx, q.dialect.Rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.conn.QueryContext(ctx, q.dialect.Rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.conn.QueryRowContext(ctx, q.dialect.Rebind(query), args...)
}

type DB struct {
	*sql.DB
	queries
	path   string
	logger *zerolog.Logger
}

// Tx is the unit of work handed to InTx callbacks.
type Tx struct {
	queries
	tx *sql.Tx
}

// Open connects to the configured driver and ensures the schema exists.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch Dialect(cfg.Driver) {
	case DialectPostgres:
		return NewPostgresDB(cfg.Postgres, logger)
	case DialectSQLite, "":
		return NewDB(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB opens a SQLite database at path. ":memory:" is accepted for tests.
// Transactions start with BEGIN IMMEDIATE so every writer holds the database lock
// from its first statement.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	sqlDB.SetMaxOpenConns(1)

	return initDB(sqlDB, DialectSQLite, path, logger)
}

func NewPostgresDB(cfg config.PostgresConfig, logger *zerolog.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}

	return initDB(sqlDB, DialectPostgres, cfg.Host+"/"+cfg.DBName, logger)
}

func initDB(sqlDB *sql.DB, dialect Dialect, path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:      sqlDB,
		queries: queries{conn: sqlDB, dialect: dialect},
		path:    path,
		logger:  logger,
	}

	if err := db.createTables(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", string(dialect)).Str("path", path).Msg("database initialized")
	return db, nil
}

func (db *DB) createTables() error {
	for _, stmt := range schema(db.dialect) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error executing query %s: %w", stmt, err)
		}
	}
	return nil
}

// Dialect reports the SQL flavour of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// InTx runs fn inside one transaction.
func (db *DB) InTx(ctx context.Context, fn func(tx domain.UnitOfWork) error) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		return fn(tx)
	})
}

// WithTx commits when fn returns nil and rolls back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{queries: queries{conn: sqlTx, dialect: db.dialect}, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
