package metrics

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/socgovd/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
	defaultDBPath   = "/data/adb/socgovd/metrics.db"

	defaultBatchSize    = 30
	defaultBatchTimeout = 60 * time.Second
)

type Config struct {
	DBPath       string
	BackupDir    string // empty means "backups" next to the database
	Enabled      bool
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false, // Disabled by default
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if metrics is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.Enabled && c.BatchSize <= 0 {
		return errFactory.WithData(ErrInvalidConfig, c.BatchSize)
	}

	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}

	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
