// Package logger bridges zerolog's console writer into the standard
// log/slog API exactly as the teacher's internal/logger does: engine
// and command code log through slog.Logger, but the wire format on
// stderr is zerolog's leveled, timestamped console output.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"

	"chainbase/internal/config"
)

func getSLogLevel() slog.Level {
	level := "info"
	if config.Global != nil {
		level = config.Global.LogLevel
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a slog.Logger whose records are rendered by zerolog's
// console writer, at the level configured in config.Global.
func New() *slog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerologLogger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(toZerologLevel(getSLogLevel())).With().Timestamp().Logger()
	return slog.New(newZerologHandler(&zerologLogger))
}
