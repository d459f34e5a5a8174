package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	EnvLevel  = "STORYBOOK_LOG_LEVEL"
	EnvFormat = "STORYBOOK_LOG_FORMAT"
)

// Init initializes the global logger from the environment.
// STORYBOOK_LOG_LEVEL: debug, info, warn, error (default: info).
// STORYBOOK_LOG_FORMAT: json for CloudWatch, anything else for console output.
func Init() {
	InitWith(os.Getenv(EnvLevel), os.Getenv(EnvFormat), os.Stderr)
}

// InitWith configures the global logger explicitly. CLI flags use it to
// override the environment.
func InitWith(level, format string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
