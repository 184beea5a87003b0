package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// RequestIDKey is the key used to store request ID in context
	RequestIDKey = "request_id"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Init initializes the global logger based on environment
func Init() {
	logLevel := getLogLevel()

	// JSON in release mode, human-readable console output otherwise
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "release" {
		Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger().
			Level(logLevel)
	} else {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
		Logger = zerolog.New(output).
			With().
			Timestamp().
			Logger().
			Level(logLevel)
	}

	// Set as global logger
	log.Logger = Logger
}

// getLogLevel returns the log level from environment variable
func getLogLevel() zerolog.Level {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		return zerolog.InfoLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}

	return level
}

// WithOrg returns a logger scoped to an organization
func WithOrg(orgID string) *zerolog.Logger {
	ctx := Logger.With()
	if orgID != "" {
		ctx = ctx.Str("org_id", orgID)
	}
	l := ctx.Logger()
	return &l
}

// WithHost returns a logger scoped to an organization and one of its hosts
func WithHost(orgID, hostID string) *zerolog.Logger {
	ctx := Logger.With()
	if orgID != "" {
		ctx = ctx.Str("org_id", orgID)
	}
	if hostID != "" {
		ctx = ctx.Str("host_id", hostID)
	}
	l := ctx.Logger()
	return &l
}
