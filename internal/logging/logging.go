// Package logging sets up zerolog for the scanner and holds the event
// helpers shared by the sync and scan paths.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"v20-scanner/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig logs to the console only; the rotating file is enabled
// once a config has been loaded.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Console:    true,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates the bootstrap logger used before the config is read.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

var levelLabels = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			ll, _ := i.(string)
			if label, ok := levelLabels[ll]; ok {
				return label
			}
			return strings.ToUpper(ll)
		},
	}
}

func fileWriter(cfg LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

// NewLoggerWithConfig builds a logger writing to the console, the rotating
// log file, or both. An unusable log file is reported on the console and
// skipped.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}

	var fileErr error
	if cfg.File && cfg.FilePath != "" {
		w, err := fileWriter(cfg)
		if err != nil {
			fileErr = err
		} else {
			writers = append(writers, w)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	logger := zerolog.New(writer).With().Timestamp().Caller().Logger()
	if fileErr != nil {
		logger.Warn().Err(fileErr).Str("path", cfg.FilePath).Msg("File logging disabled")
	}
	return logger
}

// parseLevel falls back to info for unknown names.
func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

type contextKey struct{}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithRunID adds a sync run ID to the logger context.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogSyncResult logs the outcome of a single symbol sync at a level matching
// its status.
func LogSyncResult(logger zerolog.Logger, r models.SyncResult, elapsed time.Duration) {
	var event *zerolog.Event
	switch r.Status {
	case models.StatusFailed:
		event = logger.Error().Err(r.Err)
	case models.StatusSuspended:
		event = logger.Warn()
	case models.StatusAlreadyFresh:
		event = logger.Debug()
	default:
		event = logger.Info()
	}
	if !r.LastDate.IsZero() {
		event = event.Str("last_date", r.LastDate.Format(models.DateLayout))
	}
	event.
		Str("event", "sync").
		Str("symbol", r.Symbol).
		Str("status", string(r.Status)).
		Int("bars", r.Bars).
		Int("actions", r.Actions).
		Dur("elapsed", elapsed).
		Msg(r.Message)
}

// LogCycle logs the summary of one sync cycle.
func LogCycle(logger zerolog.Logger, runID string, stats zerolog.LogObjectMarshaler, elapsed time.Duration) {
	logger.Info().
		Str("event", "cycle").
		Str("run_id", runID).
		EmbedObject(stats).
		Dur("elapsed", elapsed).
		Msg("Cycle summary")
}

// LogCandidate logs a detected breakout candidate.
func LogCandidate(logger zerolog.Logger, c models.BreakoutCandidate) {
	logger.Info().
		Str("event", "candidate").
		Str("symbol", c.Symbol).
		Time("run_start", c.RunStartDate).
		Float64("margin_pct", c.MarginPct).
		Float64("profit_potential_pct", c.ProfitPotentialPct).
		Msg("Breakout candidate")
}

// LogAPICall logs a remote call at debug level, or a failure at warn.
func LogAPICall(logger zerolog.Logger, source, endpoint string, duration time.Duration, err error) {
	if err != nil {
		logger.Warn().
			Str("event", "api_call").
			Str("source", source).
			Str("endpoint", endpoint).
			Dur("duration", duration).
			Err(err).
			Msg("API call failed")
		return
	}
	logger.Debug().
		Str("event", "api_call").
		Str("source", source).
		Str("endpoint", endpoint).
		Dur("duration", duration).
		Msg("API call completed")
}
