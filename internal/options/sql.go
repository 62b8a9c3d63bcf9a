package options

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps options in the "<prefix>options" table of the site database.
// It does not create the table; the site installer does.
type SQLStore struct {
	db    *sql.DB
	table string
	Now   func() time.Time
}

// NewSQLStore returns a Store over db using the given table prefix.
func NewSQLStore(db *sql.DB, prefix string) *SQLStore {
	return &SQLStore{db: db, table: prefix + "options", Now: time.Now}
}

// Table returns the backing table name.
func (s *SQLStore) Table() string {
	return s.table
}

func (s *SQLStore) Get(name, def string) (string, error) {
	var v string
	err := s.db.QueryRow(
		fmt.Sprintf(`SELECT option_value FROM %q WHERE option_name = ?`, s.table), name,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, nil
		}
		return def, fmt.Errorf("options: get %s: %w", name, err)
	}
	return v, nil
}

func (s *SQLStore) Set(name, value string) error {
	_, err := s.db.Exec(
		fmt.Sprintf(`INSERT INTO %q (option_name, option_value, autoload) VALUES (?, ?, 'yes')
			ON CONFLICT(option_name) DO UPDATE SET option_value = excluded.option_value`, s.table),
		name, value,
	)
	if err != nil {
		return fmt.Errorf("options: set %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) Delete(name string) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %q WHERE option_name = ?`, s.table), name)
	if err != nil {
		return fmt.Errorf("options: delete %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) GetTransient(name, def string) (string, error) {
	return getTransient(s, s.Now(), name, def)
}

func (s *SQLStore) SetTransient(name, value string, ttl time.Duration) error {
	return setTransient(s, s.Now(), name, value, ttl)
}
