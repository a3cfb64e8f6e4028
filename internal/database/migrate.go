package database

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/PartnerCenter/internal/logging"
)

// getSchemaVersion reads the schema version kept in PRAGMA user_version.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, errors.Wrap(err, "reading schema version")
	}
	return version, nil
}

// migrate applies every migration newer than the stored version, each in
// its own transaction. A database written by a newer binary is refused.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	latest := latestVersion()
	switch {
	case current > latest:
		return errors.Errorf("database schema version %d is newer than this binary supports (%d)", current, latest)
	case current == latest:
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logging.Log.WithFields(logrus.Fields{"from": current, "to": m.Version}).Infof("migrating schema: %s", m.Description)
		if err := apply(conn, m); err != nil {
			return err
		}
		current = m.Version
	}
	return nil
}

func apply(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin migration %d", m.Version)
	}
	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "migration %d (%s)", m.Version, m.Description)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit migration %d", m.Version)
	}

	// modernc/sqlite ignores user_version inside a transaction. The DDL is
	// idempotent, so a crash before this line only re-runs the migration.
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return errors.Wrapf(err, "setting version %d", m.Version)
	}
	return nil
}
