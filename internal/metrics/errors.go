package metrics

import (
	"fmt"

	"codeberg.org/mutker/socgovd/internal/errors"
)

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("metrics_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("metrics_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("metrics_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("metrics_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("metrics_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitMetrics
	ErrStorageClose = errors.ErrCloseMetrics

	// Collection Errors
	ErrMetricsCollection = errors.ErrCollectMetrics
	ErrInvalidMetrics    = errors.ErrorCode("metrics_invalid_snapshot")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)

// phaseFailure is attached as error data to say which storage step failed.
type phaseFailure struct {
	Phase string
	Path  string
	Err   string
}

func (p phaseFailure) String() string {
	if p.Path == "" {
		return fmt.Sprintf("%s: %s", p.Phase, p.Err)
	}
	return fmt.Sprintf("%s %s: %s", p.Phase, p.Path, p.Err)
}

func phaseError(code errors.ErrorCode, phase, path string, err error) errors.Error {
	return errors.New().WithData(code, phaseFailure{Phase: phase, Path: path, Err: err.Error()})
}
