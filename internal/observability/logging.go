package observability

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects the sink and format of every component logger.
type LogConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json or console
	File      string // rotate into this file when set
	MaxSizeMB int
}

// LogConfigFromEnv reads DEX_LOG_LEVEL, DEX_LOG_FORMAT, DEX_LOG_FILE and
// DEX_LOG_MAX_SIZE_MB.
func LogConfigFromEnv() LogConfig {
	cfg := LogConfig{
		Level:     os.Getenv("DEX_LOG_LEVEL"),
		Format:    os.Getenv("DEX_LOG_FORMAT"),
		File:      os.Getenv("DEX_LOG_FILE"),
		MaxSizeMB: 100,
	}
	if v, err := strconv.Atoi(os.Getenv("DEX_LOG_MAX_SIZE_MB")); err == nil && v > 0 {
		cfg.MaxSizeMB = v
	}
	return cfg
}

// Writer builds the output stream for cfg.
func (cfg LogConfig) Writer() io.Writer {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

// NewLogger creates a structured JSON logger configured from the environment.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithConfig(component, LogConfigFromEnv())
}

func NewLoggerWithConfig(component string, cfg LogConfig) zerolog.Logger {
	return zerolog.New(cfg.Writer()).
		Level(parseLogLevel(cfg.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewLoggerWithLevel creates a stdout logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
