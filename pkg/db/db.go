package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Dialect selects the SQL flavour spoken by the underlying driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB      *sql.DB
	Dialect Dialect

	lockTimeout time.Duration
}

// Options tune how atomic units are run against the store.
type Options struct {
	// LockTimeout bounds how long a unit may wait for locks before it is aborted.
	LockTimeout time.Duration
}

// Open connects using the named driver: "sqlite" takes a file path, "postgres" a DSN.
func Open(driver, target string, opts Options) (*Database, error) {
	switch Dialect(strings.ToLower(driver)) {
	case DialectSQLite, "":
		d, err := New(target)
		if err != nil {
			return nil, err
		}
		d.lockTimeout = opts.LockTimeout
		return d, nil
	case DialectPostgres:
		return NewPostgres(target, opts)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	if path != ":memory:" {
		db.SetConnMaxLifetime(time.Hour)
	}

	return &Database{DB: db, Dialect: DialectSQLite}, nil
}

// NewPostgres opens a PostgreSQL pool through the pgx stdlib driver.
func NewPostgres(dsn string, opts Options) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Database{DB: db, Dialect: DialectPostgres, lockTimeout: opts.LockTimeout}, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// SetLockTimeout changes the per-unit lock wait bound.
func (d *Database) SetLockTimeout(timeout time.Duration) {
	d.lockTimeout = timeout
}

// Queries returns read helpers bound to the pool (no transaction).
func (d *Database) Queries() *Queries {
	return &Queries{db: d.DB, dialect: d.Dialect}
}

// WithTx runs fn inside one transaction. fn's error, a panic, or a failed commit
// rolls back every write made through q.
func (d *Database) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	if d.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.lockTimeout)
		defer cancel()
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", withContextErr(ctx, err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if d.Dialect == DialectPostgres && d.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(&Queries{db: tx, dialect: d.Dialect}); err != nil {
		return withContextErr(ctx, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", withContextErr(ctx, err))
	}
	return nil
}

// withContextErr attaches the context's error when the driver reported an
// interrupt instead of returning it.
func withContextErr(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil || errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ctxErr, err)
}

// IsConflict reports whether err came from lock contention, a lock wait timeout,
// a deadlock or a serialization failure. Such units can be retried by the caller.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"sqlite_busy",
		"deadlock detected",
		"could not serialize access",
		"lock timeout",
		"lock not available",
		"sqlstate 40001",
		"sqlstate 40p01",
		"sqlstate 55p03",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
