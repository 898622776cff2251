// Package log provides the registry's structured logger, adapted from
// cuemby-warren's pkg/log package: a global zerolog.Logger, an Init
// configuring level/format/output, and With* helpers for attaching
// request-scoped fields.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgecrate/registry/pkg/domain"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level is a log verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name
// (e.g. "indexrepo", "httpapi").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequestID creates a child logger tagged with an HTTP request id.
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}

// WithPackage creates a child logger tagged with the package name an
// operation concerns.
func WithPackage(name string) zerolog.Logger {
	return Logger.With().Str("package", name).Logger()
}

// WithActor creates a child logger tagged with the authenticated
// caller's login, for audit-style log lines.
func WithActor(login string) zerolog.Logger {
	return Logger.With().Str("actor", login).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

// Audit emits a structured log line for a mutating operation
// (SPEC_FULL.md §3's supplemental audit-log entry, grounded on
// secrets/core/audit.go's idiom). Entries are never persisted; they
// exist only as a log line for downstream log aggregation.
func Audit(entry domain.AuditEntry) {
	Logger.Info().
		Int64("timestamp", entry.Timestamp).
		Str("actor", entry.Actor).
		Str("action", entry.Action).
		Str("package", entry.Package).
		Str("result", entry.Result).
		Msg("audit")
}
