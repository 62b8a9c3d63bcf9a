package sitedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RoleAdministrator is the role granted to the installer's admin account.
const RoleAdministrator = "administrator"

// User is a row of the users table.
type User struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	PassHash    string `json:"-"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Registered  string `json:"registered"`
}

const userColumns = `ID, user_login, user_pass, user_email, display_name, user_registered`

func (d *DB) scanUser(query string, args ...any) (*User, error) {
	var u User
	err := d.queryRow([]any{&u.ID, &u.Login, &u.PassHash, &u.Email, &u.DisplayName, &u.Registered}, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UserByID returns the user with the given id, or ErrNotFound.
func (d *DB) UserByID(id int64) (*User, error) {
	u, err := d.scanUser(fmt.Sprintf(`SELECT %s FROM %q WHERE ID = ?`, userColumns, d.table("users")), id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sitedb: user %d: %w", id, err)
	}
	return u, err
}

// UserByLogin returns the user with the given login, or ErrNotFound.
func (d *DB) UserByLogin(login string) (*User, error) {
	u, err := d.scanUser(fmt.Sprintf(`SELECT %s FROM %q WHERE user_login = ?`, userColumns, d.table("users")), login)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sitedb: user %q: %w", login, err)
	}
	return u, err
}

// FirstAdmin returns the administrator with the lowest id.
func (d *DB) FirstAdmin() (*User, error) {
	q := fmt.Sprintf(`SELECT u.ID, u.user_login, u.user_pass, u.user_email, u.display_name, u.user_registered
		FROM %q u JOIN %q m ON m.user_id = u.ID AND m.meta_key = ?
		WHERE m.meta_value LIKE ? ORDER BY u.ID ASC LIMIT 1`, d.table("users"), d.table("usermeta"))
	u, err := d.scanUser(q, d.capabilitiesKey(), `%"`+RoleAdministrator+`"%`)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("sitedb: first admin: %w", err)
	}
	return u, err
}

// CountUsers returns the number of user rows.
func (d *DB) CountUsers() (int, error) {
	var n int
	if err := d.queryRow([]any{&n}, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, d.table("users"))); err != nil {
		return 0, fmt.Errorf("sitedb: count users: %w", err)
	}
	return n, nil
}

// CreateUser inserts a user with one role and returns the new id.
func (d *DB) CreateUser(login, email, passHash, role string, now time.Time) (int64, error) {
	res, err := d.exec(fmt.Sprintf(`INSERT INTO %q
		(user_login, user_pass, user_nicename, user_email, user_registered, display_name)
		VALUES (?, ?, ?, ?, ?, ?)`, d.table("users")),
		login, passHash, login, email, now.UTC().Format(time.DateTime), login)
	if err != nil {
		return 0, fmt.Errorf("sitedb: create user %q: %w", login, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sitedb: create user %q: %w", login, err)
	}
	if role != "" {
		caps, _ := json.Marshal(map[string]bool{role: true})
		if err := d.SetUserMeta(id, d.capabilitiesKey(), string(caps)); err != nil {
			return id, err
		}
	}
	return id, nil
}

// SetPasswordHash replaces a user's password hash and clears any pending
// password reset key.
func (d *DB) SetPasswordHash(id int64, hash string) error {
	res, err := d.exec(fmt.Sprintf(`UPDATE %q SET user_pass = ?, user_activation_key = '' WHERE ID = ?`,
		d.table("users")), hash, id)
	if err != nil {
		return fmt.Errorf("sitedb: set password for %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sitedb: set password for %d: %w", id, ErrNotFound)
	}
	return nil
}

func (d *DB) capabilitiesKey() string {
	return d.prefix + "capabilities"
}

// SetUserMeta writes a user meta value, replacing any existing one.
func (d *DB) SetUserMeta(id int64, key, value string) error {
	_, err := d.exec(fmt.Sprintf(`INSERT INTO %q (user_id, meta_key, meta_value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`, d.table("usermeta")),
		id, key, value)
	if err != nil {
		return fmt.Errorf("sitedb: set usermeta %s for %d: %w", key, id, err)
	}
	return nil
}

// UserMeta reads a user meta value, or ErrNotFound.
func (d *DB) UserMeta(id int64, key string) (string, error) {
	var v string
	err := d.queryRow([]any{&v}, fmt.Sprintf(`SELECT meta_value FROM %q WHERE user_id = ? AND meta_key = ?`,
		d.table("usermeta")), id, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("sitedb: usermeta %s for %d: %w", key, id, err)
	}
	return v, nil
}

// DeleteUserMeta removes a user meta value. Missing values are ignored.
func (d *DB) DeleteUserMeta(id int64, key string) error {
	if _, err := d.exec(fmt.Sprintf(`DELETE FROM %q WHERE user_id = ? AND meta_key = ?`,
		d.table("usermeta")), id, key); err != nil {
		return fmt.Errorf("sitedb: delete usermeta %s for %d: %w", key, id, err)
	}
	return nil
}

// IsAdmin reports whether the user holds the administrator role.
func (d *DB) IsAdmin(id int64) (bool, error) {
	raw, err := d.UserMeta(id, d.capabilitiesKey())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var caps map[string]bool
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return false, fmt.Errorf("sitedb: capabilities for %d: %w", id, err)
	}
	return caps[RoleAdministrator], nil
}
