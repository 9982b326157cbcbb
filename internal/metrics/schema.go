package metrics

import (
	"database/sql"

	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/logger"
)

const (
	SchemaVersion = 3

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS metrics (
	       timestamp    INTEGER PRIMARY KEY,
	       zone         TEXT NOT NULL,
	       reduction    INTEGER NOT NULL CHECK (typeof(reduction) = 'integer'),
	       soc_temp     INTEGER CHECK (soc_temp IS NULL OR typeof(soc_temp) = 'integer'),
	       cpu_temp     INTEGER CHECK (cpu_temp IS NULL OR typeof(cpu_temp) = 'integer'),
	       gpu_temp     INTEGER CHECK (gpu_temp IS NULL OR typeof(gpu_temp) = 'integer'),
	       battery_temp INTEGER CHECK (battery_temp IS NULL OR typeof(battery_temp) = 'integer'),
	       freqs        TEXT NOT NULL,
	       utils        TEXT NOT NULL,
	       fan_level    INTEGER NOT NULL CHECK (fan_level BETWEEN 0 AND 5),
	       idle_mode    INTEGER NOT NULL CHECK (idle_mode IN (0, 1)),
	       game_mode    INTEGER NOT NULL CHECK (game_mode IN (0, 1)),
	       charging     INTEGER NOT NULL CHECK (charging IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS idx_metrics_zone ON metrics (zone, timestamp);`

	// timestamp is in milliseconds; a second row within the same
	// millisecond replaces the first
	insertMetricsSQL = `
    INSERT OR REPLACE INTO metrics (
        timestamp, zone, reduction,
        soc_temp, cpu_temp, gpu_temp, battery_temp,
        freqs, utils, fan_level,
        idle_mode, game_mode, charging
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates the tables and records SchemaVersion in one transaction.
func InitSchema(db *sql.DB, log logger.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return phaseError(ErrSchemaInitFailed, "create_tables", "", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion,
	); err != nil {
		return phaseError(ErrSchemaInitFailed, "record_version", "", err)
	}
	if err := tx.Commit(); err != nil {
		return phaseError(ErrSchemaInitFailed, "commit", "", err)
	}

	log.Info().Int("version", SchemaVersion).Msg("Telemetry schema created")

	return nil
}

// GetSchemaVersion returns the newest recorded schema version, or 0 for an
// empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := tableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, phaseError(ErrSchemaValidationFailed, "read_version", "", err)
	}

	return version, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, phaseError(ErrSchemaValidationFailed, "check_table", name, err)
	}

	return exists, nil
}
