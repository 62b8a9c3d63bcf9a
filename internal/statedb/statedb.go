// Package statedb keeps the reset history and the short-lived handoffs
// between the prepare and execute requests.
package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("statedb: not found")

// Run statuses.
const (
	StatusPrepared  = "PREPARED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

type DB struct {
	db   *sql.DB
	path string
	Now  func() time.Time
}

// RunRecord is one reset attempt. Origin is "cli" or "api"; times are
// RFC3339 and EndedAt stays empty while the run is open.
type RunRecord struct {
	ID         string `json:"id"`
	Origin     string `json:"origin"`
	Status     string `json:"status"`
	StepCount  int    `json:"step_count"`
	ErrorCount int    `json:"error_count"`
	Message    string `json:"message"`
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at"`
}

// Handoff is a stored preparation waiting for its execute request.
type Handoff struct {
	Token     string
	RunID     string
	Payload   []byte
	ExpiresAt time.Time
}

// Open creates or opens a SQLite database at path with WAL mode,
// busy timeout of 5 seconds, and foreign keys enabled. It creates
// the runs and handoffs tables if they do not already exist.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			origin      TEXT NOT NULL DEFAULT 'cli',
			status      TEXT NOT NULL DEFAULT 'PREPARED',
			step_count  INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			message     TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			ended_at    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			token      TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL DEFAULT '',
			payload    BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: create table: %w", err)
		}
	}

	return &DB{db: db, path: path, Now: time.Now}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Ping() error {
	return d.db.Ping()
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) stamp() string {
	return d.Now().UTC().Format(time.RFC3339)
}

// StartRun records a new PREPARED run and returns its id.
func (d *DB) StartRun(origin string) (string, error) {
	id := uuid.NewString()
	err := d.InsertRun(RunRecord{ID: id, Origin: origin, Status: StatusPrepared, StartedAt: d.stamp()})
	if err != nil {
		return "", err
	}
	return id, nil
}

// InsertRun inserts a new run record.
func (d *DB) InsertRun(record RunRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO runs (id, origin, status, step_count, error_count, message, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Origin, record.Status, record.StepCount, record.ErrorCount,
		record.Message, record.StartedAt, record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("statedb: insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID. Returns ErrNotFound if the ID
// does not exist.
func (d *DB) GetRun(id string) (RunRecord, error) {
	var r RunRecord
	err := d.db.QueryRow(
		`SELECT id, origin, status, step_count, error_count, message, started_at, ended_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Origin, &r.Status, &r.StepCount, &r.ErrorCount, &r.Message, &r.StartedAt, &r.EndedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, fmt.Errorf("statedb: get run: %w", err)
	}
	return r, nil
}

// FinishRun sets the final status and counts of a run. ended_at is set to
// the current UTC time.
func (d *DB) FinishRun(id, status string, steps, errs int, message string) error {
	result, err := d.db.Exec(
		`UPDATE runs SET status = ?, step_count = ?, error_count = ?, message = ?, ended_at = ?
		 WHERE id = ?`,
		status, steps, errs, message, d.stamp(), id,
	)
	if err != nil {
		return fmt.Errorf("statedb: finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("statedb: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent run records ordered by started_at
// descending. If limit is 0, all records are returned.
func (d *DB) ListRuns(limit int) ([]RunRecord, error) {
	query := `SELECT id, origin, status, step_count, error_count, message, started_at, ended_at
		FROM runs ORDER BY started_at DESC, rowid DESC`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = d.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = d.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Origin, &r.Status, &r.StepCount, &r.ErrorCount,
			&r.Message, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("statedb: scan run: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: rows runs: %w", err)
	}
	return records, nil
}

// PruneRuns deletes finished runs that started before cutoff.
func (d *DB) PruneRuns(cutoff time.Time) (int, error) {
	res, err := d.db.Exec(`DELETE FROM runs WHERE ended_at != '' AND started_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("statedb: prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PutHandoff stores payload under a fresh random token valid for ttl.
func (d *DB) PutHandoff(runID string, payload []byte, ttl time.Duration) (Handoff, error) {
	h := Handoff{
		Token:     uuid.NewString(),
		RunID:     runID,
		Payload:   payload,
		ExpiresAt: d.Now().Add(ttl),
	}
	_, err := d.db.Exec(`INSERT INTO handoffs (token, run_id, payload, expires_at) VALUES (?, ?, ?, ?)`,
		h.Token, h.RunID, h.Payload, h.ExpiresAt.Unix())
	if err != nil {
		return Handoff{}, fmt.Errorf("statedb: put handoff: %w", err)
	}
	return h, nil
}

// TakeHandoff returns the handoff stored under token and deletes it, so a
// token is usable once. A missing or expired handoff is ErrNotFound.
func (d *DB) TakeHandoff(token string) (Handoff, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return Handoff{}, fmt.Errorf("statedb: take handoff: %w", err)
	}
	defer tx.Rollback()

	h := Handoff{Token: token}
	var expires int64
	err = tx.QueryRow(`SELECT run_id, payload, expires_at FROM handoffs WHERE token = ?`, token).
		Scan(&h.RunID, &h.Payload, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Handoff{}, ErrNotFound
		}
		return Handoff{}, fmt.Errorf("statedb: take handoff: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM handoffs WHERE token = ?`, token); err != nil {
		return Handoff{}, fmt.Errorf("statedb: take handoff: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Handoff{}, fmt.Errorf("statedb: take handoff: %w", err)
	}

	h.ExpiresAt = time.Unix(expires, 0)
	if !d.Now().Before(h.ExpiresAt) {
		return Handoff{}, ErrNotFound
	}
	return h, nil
}

// PruneHandoffs deletes expired handoffs and returns how many were removed.
func (d *DB) PruneHandoffs() (int, error) {
	res, err := d.db.Exec(`DELETE FROM handoffs WHERE expires_at <= ?`, d.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("statedb: prune handoffs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Counts returns the number of run records and pending handoffs.
func (d *DB) Counts() (runs, handoffs int, err error) {
	if err = d.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs); err != nil {
		return 0, 0, fmt.Errorf("statedb: count runs: %w", err)
	}
	if err = d.db.QueryRow(`SELECT COUNT(*) FROM handoffs`).Scan(&handoffs); err != nil {
		return 0, 0, fmt.Errorf("statedb: count handoffs: %w", err)
	}
	return runs, handoffs, nil
}
