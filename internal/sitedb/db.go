// Package sitedb is the site database: a SQLite file whose tables share a
// prefix. It exposes the raw schema operations a reset needs, the user and
// post lookups used for verification, and the baseline installer.
package sitedb

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lyndonlyu/sitereset/internal/migration"
)

var ErrNotFound = errors.New("sitedb: not found")

type DB struct {
	db     *sql.DB
	path   string
	prefix string
	logger *slog.Logger

	mu       sync.Mutex
	suppress bool

	// Mailer receives the new-site notification sent by Install. Nil means
	// no notification is sent.
	Mailer Notifier
	Now    func() time.Time
}

// Open opens the site database at path. All connections are funnelled
// through one handle so that connection-scoped pragmas (foreign_keys) hold
// for every statement.
func Open(path, prefix string, logger *slog.Logger) (*DB, error) {
	if prefix == "" {
		return nil, fmt.Errorf("sitedb: empty table prefix")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sitedb: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sitedb: ping: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sitedb: %s: %w", p, err)
		}
	}
	return &DB{db: db, path: path, prefix: prefix, logger: logger, Now: time.Now}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL returns the underlying handle for stores that share the connection.
func (d *DB) SQL() *sql.DB { return d.db }

// Prefix returns the table prefix.
func (d *DB) Prefix() string { return d.prefix }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

func (d *DB) table(name string) string {
	return d.prefix + name
}

// SuppressErrors turns logging of failed statements off (true) or back on
// and returns the previous setting. Errors are still returned to callers.
func (d *DB) SuppressErrors(suppress bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.suppress
	d.suppress = suppress
	return prev
}

func (d *DB) surface(query string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	d.mu.Lock()
	quiet := d.suppress
	d.mu.Unlock()
	if !quiet {
		d.logger.Error("site database error", "query", oneLine(query), "error", err)
	}
	return err
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	res, err := d.db.Exec(query, args...)
	return res, d.surface(query, err)
}

func (d *DB) queryRow(dest []any, query string, args ...any) error {
	return d.surface(query, d.db.QueryRow(query, args...).Scan(dest...))
}

func oneLine(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// Tables lists the tables whose name starts with the table prefix. The
// prefix is matched literally; '_' and '%' are not wildcards.
func (d *DB) Tables() ([]string, error) {
	const q = `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\' ORDER BY name`
	rows, err := d.db.Query(q, escapeLike(d.prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("sitedb: list tables: %w", d.surface(q, err))
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sitedb: scan table: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// DropTable drops a table. Dropping a missing table is not an error.
func (d *DB) DropTable(name string) error {
	if _, err := d.exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, name)); err != nil {
		return fmt.Errorf("sitedb: drop %s: %w", name, err)
	}
	return nil
}

// SetForeignKeyChecks enables or disables foreign key enforcement.
func (d *DB) SetForeignKeyChecks(on bool) error {
	v := "OFF"
	if on {
		v = "ON"
	}
	if _, err := d.exec("PRAGMA foreign_keys=" + v); err != nil {
		return fmt.Errorf("sitedb: foreign_keys=%s: %w", v, err)
	}
	return nil
}

// ResetSchemaVersion marks the schema as empty so the next Install migrates
// from scratch. Call it after dropping the tables.
func (d *DB) ResetSchemaVersion() error {
	if err := migration.SetVersion(d.db, 0); err != nil {
		return fmt.Errorf("sitedb: %w", d.surface("PRAGMA user_version", err))
	}
	return nil
}

// SchemaVersion returns the applied schema migration version.
func (d *DB) SchemaVersion() (int, error) {
	return migration.GetVersion(d.db)
}
