// Package observability provides logging and metrics utilities.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/rps/internal/config"
)

// ServiceName is stamped on every entry as the "service" field.
const ServiceName = "rps"

// Transport labels for ConnLogger.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// NewLogger creates the server's root logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a logger writing to stderr whose entries all carry
// service=rps, or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	return newLogger(cfg, nil)
}

// newLogger builds the root logger; outputPaths overrides stderr when non-empty.
func newLogger(cfg config.LoggingConfig, outputPaths []string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		// development mode: DPanic on a matchmaker state violation panics
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(outputPaths) > 0 {
		zapCfg.OutputPaths = outputPaths
	}

	logger, err := zapCfg.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// ConnLogger returns the child logger for one client connection. Every pump
// entry for the connection carries conn, remote_addr and transport.
func ConnLogger(base *zap.Logger, connID, remoteAddr, transport string) *zap.Logger {
	return base.With(
		zap.String("conn", connID),
		zap.String("remote_addr", remoteAddr),
		zap.String("transport", transport),
	)
}

// SessionLogger returns the child logger for one match, keyed by session id
// and both usernames in pairing order.
func SessionLogger(base *zap.Logger, sessionID string, players [2]string) *zap.Logger {
	return base.With(
		zap.String("session", sessionID),
		zap.String("player1", players[0]),
		zap.String("player2", players[1]),
	)
}
