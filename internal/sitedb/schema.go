package sitedb

import (
	"fmt"

	"github.com/lyndonlyu/sitereset/internal/migration"
)

// Schema returns the baseline schema migrations for a table prefix.
func Schema(prefix string) *migration.Registry {
	t := func(name string) string { return fmt.Sprintf("%q", prefix+name) }
	return migration.NewRegistry().
		MustAdd("options", `CREATE TABLE IF NOT EXISTS `+t("options")+` (
			option_id    INTEGER PRIMARY KEY,
			option_name  TEXT NOT NULL UNIQUE,
			option_value TEXT NOT NULL DEFAULT '',
			autoload     TEXT NOT NULL DEFAULT 'yes'
		)`).
		MustAdd("users", `CREATE TABLE IF NOT EXISTS `+t("users")+` (
			ID                  INTEGER PRIMARY KEY,
			user_login          TEXT NOT NULL UNIQUE,
			user_pass           TEXT NOT NULL DEFAULT '',
			user_nicename       TEXT NOT NULL DEFAULT '',
			user_email          TEXT NOT NULL DEFAULT '',
			user_url            TEXT NOT NULL DEFAULT '',
			user_registered     TEXT NOT NULL,
			user_activation_key TEXT NOT NULL DEFAULT '',
			user_status         INTEGER NOT NULL DEFAULT 0,
			display_name        TEXT NOT NULL DEFAULT ''
		)`).
		MustAdd("usermeta", `CREATE TABLE IF NOT EXISTS `+t("usermeta")+` (
			umeta_id   INTEGER PRIMARY KEY,
			user_id    INTEGER NOT NULL REFERENCES `+t("users")+`(ID) ON DELETE CASCADE,
			meta_key   TEXT NOT NULL,
			meta_value TEXT NOT NULL DEFAULT '',
			UNIQUE(user_id, meta_key)
		)`).
		MustAdd("posts", `CREATE TABLE IF NOT EXISTS `+t("posts")+` (
			ID                INTEGER PRIMARY KEY,
			post_author       INTEGER NOT NULL DEFAULT 0,
			post_date         TEXT NOT NULL,
			post_date_gmt     TEXT NOT NULL,
			post_content      TEXT NOT NULL DEFAULT '',
			post_title        TEXT NOT NULL DEFAULT '',
			post_status       TEXT NOT NULL DEFAULT 'publish',
			post_name         TEXT NOT NULL DEFAULT '',
			post_modified     TEXT NOT NULL,
			post_modified_gmt TEXT NOT NULL,
			post_type         TEXT NOT NULL DEFAULT 'post'
		)`)
}

// Migrate applies the baseline schema.
func (d *DB) Migrate() (*migration.Result, error) {
	res, err := Schema(d.prefix).Migrate(d.db)
	if err != nil {
		return nil, fmt.Errorf("sitedb: migrate: %w", d.surface("migrate", err))
	}
	return res, nil
}

// SchemaStatus returns the applied schema version and the version a fresh
// install would reach.
func (d *DB) SchemaStatus() (current, latest int, err error) {
	current, err = d.SchemaVersion()
	if err != nil {
		return 0, 0, fmt.Errorf("sitedb: %w", err)
	}
	return current, Schema(d.prefix).Latest(), nil
}
