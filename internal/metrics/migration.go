package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/logger"
)

// keepBackups bounds how many schema backups accumulate on the data partition.
const keepBackups = 3

// schemaTables are dropped, in order, when the schema is rebuilt.
var schemaTables = []string{"metrics", "schema_versions"}

// Migrate brings db to SchemaVersion. A database written by another
// version is copied into backupDir and rebuilt empty. Rows are not converted.
func Migrate(db *sql.DB, backupDir string, log logger.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return errors.New().Wrap(ErrSchemaValidationFailed, err)
	}

	switch version {
	case SchemaVersion:
		log.Debug().Int("version", version).Msg("Telemetry schema is current")
		return nil
	case 0:
		return InitSchema(db, log)
	}

	log.Info().
		Int("found", version).
		Int("want", SchemaVersion).
		Msg("Telemetry schema changed, rebuilding")

	if _, err := backupDatabase(db, backupDir, version, log); err != nil {
		return err
	}
	pruneBackups(backupDir, keepBackups, log)

	if err := dropSchema(db); err != nil {
		return err
	}

	return InitSchema(db, log)
}

func backupName(version int, at time.Time) string {
	return fmt.Sprintf("metrics_v%d_%s.db", version, at.UTC().Format("20060102T150405Z"))
}

func backupDatabase(db *sql.DB, dir string, version int, log logger.Logger) (string, error) {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", phaseError(ErrSchemaMigrationFailed, "backup_dir", dir, err)
	}

	path := filepath.Join(dir, backupName(version, time.Now()))
	// VACUUM INTO takes a literal, not a bind parameter
	stmt := "VACUUM INTO '" + strings.ReplaceAll(path, "'", "''") + "'"
	if _, err := db.Exec(stmt); err != nil {
		return "", phaseError(ErrSchemaMigrationFailed, "backup", path, err)
	}

	log.Info().Str("path", path).Int("version", version).Msg("Telemetry database backed up")

	return path, nil
}

// pruneBackups removes all but the newest keep backups. Names sort by time.
func pruneBackups(dir string, keep int, log logger.Logger) {
	matches, err := filepath.Glob(filepath.Join(dir, "metrics_v*_*.db"))
	if err != nil || len(matches) <= keep {
		return
	}

	sort.Slice(matches, func(i, j int) bool {
		return stampOf(matches[i]) < stampOf(matches[j])
	})
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil {
			log.Warn().Err(err).Str("path", old).Msg("Failed to remove old telemetry backup")
		}
	}
}

func stampOf(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".db")
	if i := strings.LastIndexByte(base, '_'); i >= 0 {
		return base[i+1:]
	}

	return base
}

func dropSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range schemaTables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return phaseError(ErrSchemaMigrationFailed, "drop_"+table, "", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return phaseError(ErrSchemaMigrationFailed, "commit", "", err)
	}

	return nil
}
