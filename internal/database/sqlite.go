package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"catalog-sync-service/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

// ErrCorrupted is returned when the backing file fails an integrity check or
// the driver reports a malformed database. The only recovery is Recreate.
var ErrCorrupted = errors.New("catalog store is corrupted")

// TransientError wraps lock contention the caller may retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return "transient store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retryable() bool { return true }

// Database is the single shared handle to the catalog file. Every component
// receives the same instance from the composition root.
type Database struct {
	Path string

	mu sync.RWMutex
	db *sql.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := openAndMigrate(path)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Opened catalog store", zap.String("path", path))

	return &Database{
		Path: path,
		db:   db,
	}, nil
}

func openAndMigrate(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog store: %w", err)
	}

	// One connection: SQLite allows a single writer and every write goes
	// through a transaction on it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, Classify(fmt.Errorf("failed to ping catalog store: %w", err))
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, Classify(err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(logger.GooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate catalog store: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Conn runs fn against the live connection pool. Recreate waits for fn.
func (d *Database) Conn(fn func(db *sql.DB) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Classify(fn(d.db))
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return Classify(fmt.Errorf("tx err: %w, rb err: %v", err, rbErr))
		}
		return Classify(err)
	}

	if err := tx.Commit(); err != nil {
		return Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns ErrCorrupted on any finding.
func (d *Database) IntegrityCheck(ctx context.Context) error {
	return d.Conn(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
		if err != nil {
			return err
		}
		defer rows.Close()

		var findings []string
		for rows.Next() {
			var line string
			if err := rows.Scan(&line); err != nil {
				return err
			}
			findings = append(findings, line)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if len(findings) == 1 && findings[0] == "ok" {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrCorrupted, strings.Join(findings, "; "))
	})
}

// Recreate deletes the backing file and initialises an empty store in its place.
func (d *Database) Recreate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	logger.Log.Warn("Recreating catalog store", zap.String("path", d.Path))

	if err := d.db.Close(); err != nil {
		logger.Log.Warn("Closing corrupted store failed", zap.Error(err))
	}

	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(d.Path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", d.Path+suffix, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := openAndMigrate(d.Path)
	if err != nil {
		return fmt.Errorf("failed to reinitialise catalog store: %w", err)
	}
	d.db = db
	return nil
}

// Classify maps driver errors onto ErrCorrupted or TransientError.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrCorrupted) {
		return err
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return err
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return fmt.Errorf("%w: %w", ErrCorrupted, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &TransientError{Err: err}
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "file is not a database") {
		return fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return err
}
