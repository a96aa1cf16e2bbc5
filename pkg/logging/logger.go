// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// OutputFile additionally writes JSON logs to a rotated file when set.
	OutputFile string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

var (
	fileMu     sync.Mutex
	fileWriter *lumberjack.Logger
)

// Setup configures the global zerolog logger.
func Setup(cfg Config) (zerolog.Logger, error) {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	writers := []io.Writer{out}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("create log directory: %w", err)
		}

		fileMu.Lock()
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		}
		writers = append(writers, fileWriter)
		fileMu.Unlock()
	}

	var output io.Writer = out
	if len(writers) > 1 {
		output = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger, nil
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Session cache hits and misses
//   - Fetch starts (symbol, cursor, epoch)
//   - Discarded stale results
//
// Info: Normal operation events
//   - Pages applied to a stream
//   - Session created / closed
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts with backoff
//   - Upstream 429 cooldowns
//   - Cooldown store errors (requests fail open)
//
// Error: Error conditions requiring attention
//   - Fetches failed after retries
//   - Out-of-order page completions
//   - Configuration errors
//
// Context Fields:
//   - symbol: Search key of the stream
//   - cursor: Page cursor
//   - epoch: Activation epoch of the stream
//   - attempt: Retry attempt index
//   - error_kind: rate_limited, api, network, malformed
//   - status_code: HTTP status code
//   - delay: Backoff or cooldown duration
//   - session_id: UI session
