// Package migration versions the site database schema. The version is kept in
// SQLite's PRAGMA user_version, which survives DROP TABLE; callers that wipe
// the schema must reset it with SetVersion(db, 0) before migrating again.
package migration

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
}

// Result describes what happened during a Migrate call.
type Result struct {
	FromVersion int `json:"from_version"`
	ToVersion   int `json:"to_version"`
	Applied     int `json:"applied"`
}

// Registry holds an ordered list of migrations.
type Registry struct {
	migrations []Migration
}

// NewRegistry creates an empty migration registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a migration. The version must be sequential (len(migrations)+1).
func (r *Registry) Add(version int, description, sql string) error {
	expected := len(r.migrations) + 1
	if version != expected {
		return fmt.Errorf("expected version %d, got %d", expected, version)
	}
	r.migrations = append(r.migrations, Migration{
		Version:     version,
		Description: description,
		SQL:         sql,
	})
	return nil
}

// MustAdd is Add for statically known registries.
func (r *Registry) MustAdd(description, sql string) *Registry {
	if err := r.Add(len(r.migrations)+1, description, sql); err != nil {
		panic(err)
	}
	return r
}

// Latest returns the highest registered migration version, or 0 if empty.
func (r *Registry) Latest() int {
	return len(r.migrations)
}

// GetVersion reads the current schema version from the database using PRAGMA user_version.
func GetVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// SetVersion sets the schema version in the database using PRAGMA user_version.
func SetVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	if err != nil {
		return fmt.Errorf("set user_version to %d: %w", version, err)
	}
	return nil
}

// Migrate applies all pending migrations in order, bumping user_version after
// each one. It stops at the first failing migration.
func (r *Registry) Migrate(db *sql.DB) (*Result, error) {
	current, err := GetVersion(db)
	if err != nil {
		return nil, err
	}
	if current >= r.Latest() {
		return &Result{FromVersion: current, ToVersion: current}, nil
	}

	applied := 0
	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			return nil, fmt.Errorf("migration v%d (%s): %w", m.Version, m.Description, err)
		}
		if err := SetVersion(db, m.Version); err != nil {
			return nil, fmt.Errorf("set version after migration v%d: %w", m.Version, err)
		}
		applied++
	}

	return &Result{
		FromVersion: current,
		ToVersion:   r.Latest(),
		Applied:     applied,
	}, nil
}

// Plan returns all migrations that have not yet been applied (Version > current).
func (r *Registry) Plan(db *sql.DB) ([]Migration, error) {
	current, err := GetVersion(db)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range r.migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	return pending, nil
}
