package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrBindFlags     ErrorCode = "bind_flags_failed"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrWriteConfig   ErrorCode = "write_config_failed"
	ErrWatchConfig   ErrorCode = "watch_config_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Sensor errors
	ErrSensorMissing ErrorCode = "sensor_missing"
	ErrSensorParse   ErrorCode = "sensor_parse_failed"

	// Actuator errors
	ErrActuatorWrite ErrorCode = "actuator_write_failed"
	ErrActuatorRead  ErrorCode = "actuator_read_failed"

	// Application errors
	ErrMainLoop     ErrorCode = "main_loop_failed"
	ErrApplyDomain  ErrorCode = "apply_domain_failed"
	ErrRestoreState ErrorCode = "restore_state_failed"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"

	// Metrics errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"

	// Status errors
	ErrServeStatus   ErrorCode = "serve_status_failed"
	ErrPublishStatus ErrorCode = "publish_status_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:        "Internal error occurred",
	ErrInvalidArgument: "Invalid argument provided",
	ErrUnavailable:     "Service unavailable",
	ErrInvalidConfig:   "Invalid configuration",
	ErrBindFlags:       "Failed to bind flags",
	ErrReadConfig:      "Failed to read configuration",
	ErrWriteConfig:     "Failed to write configuration",
	ErrWatchConfig:     "Failed to watch configuration",
	ErrInvalidLogLevel: "Invalid log level",
	ErrShutdownFailed:  "Shutdown failed",
	ErrAlreadyRunning:  "Another instance is already running",
	ErrSensorMissing:   "Sensor not found",
	ErrSensorParse:     "Failed to parse sensor value",
	ErrActuatorWrite:   "Failed to write actuator",
	ErrActuatorRead:    "Failed to read actuator",
	ErrMainLoop:        "Error in main loop",
	ErrApplyDomain:     "Failed to apply frequency domain",
	ErrRestoreState:    "Failed to restore actuator state",
	ErrTimeout:         "Operation timed out",
	ErrInitMetrics:     "Failed to initialize metrics",
	ErrCollectMetrics:  "Failed to collect metrics data",
	ErrCloseMetrics:    "Failed to close metrics connection",
	ErrServeStatus:     "Failed to serve status endpoint",
	ErrPublishStatus:   "Failed to publish status",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
