package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp       INTEGER NOT NULL,
	       temperature     REAL NOT NULL,
	       humidity        REAL NOT NULL,
	       soil_moisture   REAL NOT NULL,
	       mode            TEXT NOT NULL,
	       status          TEXT NOT NULL,
	       phase           TEXT NOT NULL,
	       source          TEXT NOT NULL,
	       fan             TEXT NOT NULL CHECK (fan IN ('ON', 'OFF')),
	       light           TEXT NOT NULL CHECK (light IN ('ON', 'OFF')),
	       ventilation     TEXT NOT NULL CHECK (ventilation IN ('OPEN', 'CLOSED')),
	       manual_override INTEGER NOT NULL CHECK (manual_override IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS snapshots_timestamp ON snapshots (timestamp);`

	insertSnapshotSQL = `
    INSERT INTO snapshots (
        timestamp,
        temperature, humidity, soil_moisture,
        mode, status, phase, source,
        fan, light, ventilation,
        manual_override
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	schemaVersionSQL = `
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1`

	tableExistsSQL = `
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )`
)

var schemaTables = []string{"snapshots", "schema_versions"}

// InitSchema creates the tables and records SchemaVersion.
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().Int("version", SchemaVersion).Msg("Telemetry schema initialized")

	return nil
}

// GetSchemaVersion returns the recorded schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(schemaVersionSQL).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, table string) (bool, error) {
	var exists bool
	if err := db.QueryRow(tableExistsSQL, table).Scan(&exists); err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: table,
			Error: err.Error(),
		})
	}

	return exists, nil
}
