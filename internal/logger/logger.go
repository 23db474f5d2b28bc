package logger

import (
	"os"
	"syscall"
	"time"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

// Init initializes the logger with the given level ("debug", "info",
// "warning" or "error"). Service mode drops timestamps since the service
// manager adds its own.
func Init(level string, isService bool) error {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	return SetLogLevel(level)
}

// SetLogLevel sets the global log level
func SetLogLevel(level string) error {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warning", "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		return errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}

	return nil
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

	return syscall.Getpgrp() == syscall.Getpid()
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

// ErrorWithCode logs an error message with the domain error code carried
// anywhere in err's unwrap chain
func ErrorWithCode(err error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(errors.CodeOf(err))).
		Err(err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

type defaultLogger struct{}

func (defaultLogger) Debug() *LogEvent { return Debug() }
func (defaultLogger) Info() *LogEvent  { return Info() }
func (defaultLogger) Warn() *LogEvent  { return Warn() }
func (defaultLogger) Error() *LogEvent { return Error() }
func (defaultLogger) Fatal() *LogEvent { return Fatal() }

func (defaultLogger) ErrorWithCode(err error) *LogEvent { return ErrorWithCode(err) }

// Default returns a Logger backed by the package-level logger
func Default() Logger {
	return defaultLogger{}
}

type nopLogger struct {
	l zerolog.Logger
}

func (n nopLogger) Debug() *LogEvent { return &LogEvent{n.l.Debug()} }
func (n nopLogger) Info() *LogEvent  { return &LogEvent{n.l.Info()} }
func (n nopLogger) Warn() *LogEvent  { return &LogEvent{n.l.Warn()} }
func (n nopLogger) Error() *LogEvent { return &LogEvent{n.l.Error()} }
func (n nopLogger) Fatal() *LogEvent { return &LogEvent{n.l.Fatal()} }

func (n nopLogger) ErrorWithCode(err error) *LogEvent {
	return &LogEvent{n.l.Error().Err(err)}
}

// Nop returns a Logger that discards everything, for tests
func Nop() Logger {
	return nopLogger{l: zerolog.Nop()}
}
