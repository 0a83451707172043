package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// LogLevelEnv selects the log level. Unset means info.
const LogLevelEnv = "PROMDOC_LOG"

// NewLogger builds the process logger writing human-readable lines to w.
// An unrecognised level falls back to info and is reported once at warn.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, ok := ParseLevel(level)

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(w),
	}).Level(lvl).With().Timestamp().Logger()

	if !ok {
		logger.Warn().Str("env", LogLevelEnv).Str("value", level).Msg("Unknown log level, using info")
	}
	return logger
}

// NewLoggerFromEnv builds the logger from PROMDOC_LOG, writing to stderr.
func NewLoggerFromEnv() zerolog.Logger {
	return NewLogger(os.Stderr, os.Getenv(LogLevelEnv))
}

// ParseLevel maps a level name to a zerolog level. The empty string is info.
func ParseLevel(level string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, true
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
