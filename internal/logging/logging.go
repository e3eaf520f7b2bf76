// Package logging builds the zap logger shared by the MCP server, the web UI
// and the benchmark engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a JSON logger at the given level writing to w.
// A nil writer means stderr; stdout is reserved for the stdio transport.
func New(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	core := zapcore.NewCore(newEncoder(), zapcore.AddSync(w), lvl)
	return zap.New(core, zap.AddCaller()).Named("mcpeval"), nil
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

func newEncoder() zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Field keys used across packages.
const (
	KeySessionID = "session_id"
	KeyRunID     = "run_id"
	KeyState     = "state"
)

// Session returns the common fields identifying a session and its run.
func Session(sessionID string, runID *string) []zap.Field {
	fields := []zap.Field{zap.String(KeySessionID, sessionID)}
	if runID != nil {
		fields = append(fields, zap.String(KeyRunID, *runID))
	}
	return fields
}
