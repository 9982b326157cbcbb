package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/socgovd/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var log = zerolog.New(io.Discard)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given configuration
func Init(level string, debug, verbose, isService bool) {
	InitWithWriter(os.Stdout, level, debug, verbose, isService)
}

// InitWithWriter is Init with an explicit output, used by tests.
func InitWithWriter(out io.Writer, level string, debug, verbose, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    isService,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	ApplyLevel(level, debug, verbose)
}

// ApplyLevel sets the global level from a config level name. debug wins
// over verbose, and both win over level.
func ApplyLevel(level string, debug, verbose bool) {
	switch {
	case debug:
		SetLogLevel(DebugLevel)
	case verbose:
		SetLogLevel(InfoLevel)
	default:
		SetLogLevel(ParseLevel(level))
	}
}

// ParseLevel maps a config log level name to a LogLevel, defaulting to info.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warning", "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return unix.Getpgrp() == unix.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// componentLogger tags every event with a component field.
type componentLogger struct {
	component string
}

// New returns a Logger that tags its events with the given component.
func New(component string) Logger {
	return &componentLogger{component: component}
}

func (l *componentLogger) Debug() *LogEvent {
	return &LogEvent{log.Debug().Str("component", l.component)}
}

func (l *componentLogger) Info() *LogEvent {
	return &LogEvent{log.Info().Str("component", l.component)}
}

func (l *componentLogger) Warn() *LogEvent {
	return &LogEvent{log.Warn().Str("component", l.component)}
}

func (l *componentLogger) Error() *LogEvent {
	return &LogEvent{log.Error().Str("component", l.component)}
}

func (l *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{ErrorWithCode(err).Str("component", l.component)}
}

func (l *componentLogger) With(component string) Logger {
	return &componentLogger{component: l.component + "." + component}
}
