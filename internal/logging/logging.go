// Package logging configures the process-wide zerolog logger.
//
// Every long-lived component (market feed, symbol filter, trader workers,
// the decision pipeline) receives a sub-logger tagged with a component
// field, so a single scan can be followed across components by trader id.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls global logger behavior.
type Config struct {
	Level      string // debug, info, warn, error
	JSONFormat bool   // JSON output when true, console writer otherwise
}

// Setup configures the global zerolog logger. Call once at startup before
// any component loggers are created.
func Setup(cfg Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	if cfg.JSONFormat {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// For returns a sub-logger tagged with a component name.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForTrader returns a sub-logger tagged with a component name and trader id.
func ForTrader(component, traderID string) zerolog.Logger {
	return log.With().Str("component", component).Str("trader_id", traderID).Logger()
}

func parseLevel(level string) zerolog.Level {
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
