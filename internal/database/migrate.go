package database

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

// migrations are applied in order, migrations[i] brings the schema from version i to i+1.
// Append new migrations, never edit an applied one.
var migrations = []string{
	// 1: initial schema
	`
	CREATE TABLE IF NOT EXISTS users (
	  id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	  email                TEXT NOT NULL UNIQUE,
	  password             TEXT,
	  milestone_credential TEXT,
	  password_updated_at  INTEGER NOT NULL DEFAULT 0,
	  created_at           INTEGER NOT NULL,
	  updated_at           INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS capsules (
	  id              INTEGER PRIMARY KEY AUTOINCREMENT,
	  owner_id        INTEGER NOT NULL,
	  title           TEXT NOT NULL,
	  message_nonce   BLOB,
	  message_payload BLOB,
	  trigger_kind    TEXT NOT NULL,
	  trigger_value   TEXT NOT NULL,
	  type            TEXT,
	  is_delivered    INTEGER NOT NULL DEFAULT 0,
	  opened_at       INTEGER,
	  owner_email     TEXT,
	  created_at      INTEGER NOT NULL,
	  updated_at      INTEGER NOT NULL,
	  CHECK ((is_delivered = 0) = (opened_at IS NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_capsules_owner ON capsules(owner_id, id);
	CREATE INDEX IF NOT EXISTS idx_capsules_pending ON capsules(trigger_kind, id) WHERE is_delivered = 0;
	`,
	// 2: unlock reminders
	`
	ALTER TABLE capsules ADD COLUMN reminder7_sent INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE capsules ADD COLUMN reminder1_sent INTEGER NOT NULL DEFAULT 0;
	`,
}

// SchemaVersion is the latest schema version.
var SchemaVersion = len(migrations)

// Migrate applies the pending schema migrations based on user_version.
func Migrate(db *sql.DB) error {
	version, err := UserVersion(db)
	if err != nil {
		return err
	}

	if version > SchemaVersion {
		return errors.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	for v := version; v < SchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return errors.Wrap(err, "could not begin migration")
		}

		if _, err = tx.Exec(migrations[v]); err != nil {
			tx.Rollback() // nolint:errcheck
			return errors.Wrapf(err, "migration %d failed", v+1)
		}

		// PRAGMA does not accept bound parameters.
		if _, err = tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback() // nolint:errcheck
			return errors.Wrapf(err, "could not set schema version %d", v+1)
		}

		if err = tx.Commit(); err != nil {
			return errors.Wrapf(err, "could not commit migration %d", v+1)
		}
	}

	return nil
}

// UserVersion returns the current schema version (user_version pragma).
func UserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, errors.Wrap(err, "could not get user_version")
	}
	return version, nil
}
