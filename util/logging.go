package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	Logger = zerolog.New(io.Discard)
)

func parseLevel(inlevel string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(inlevel)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func LogInit(inlevel string) {
	LogInitWriter(inlevel, os.Stderr)
}

// LogInitWriter points the console logger at out. Tests use it to capture
// log lines.
func LogInitWriter(inlevel string, out io.Writer) {
	level := parseLevel(inlevel)
	Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stderr},
	).Level(level).With().Timestamp().Caller().Logger()

	Logger.Info().Msgf("logging initialized at level %v", level)
}
