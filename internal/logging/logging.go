// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level and destination. When File is set, output goes
// to a rotating file instead of stderr.
type Config struct {
	Level      string `yaml:"level"`
	Prefix     string `yaml:"prefix"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	JSON       bool   `yaml:"json"`
}

// DefaultConfig logs at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Prefix:     "piiscope",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
	}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "info", "":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// ValidLevel reports whether level is one parseLevel understands.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
		return true
	}
	return false
}

// Writer returns the destination for cfg: a lumberjack rotator when File is
// set, stderr otherwise.
func Writer(cfg Config) io.Writer {
	if strings.TrimSpace(cfg.File) == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// New creates a logger writing to w.
func New(w io.Writer, cfg Config) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{
		Level:           parseLevel(cfg.Level),
		Prefix:          cfg.Prefix,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
	})
	if cfg.JSON {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}

var (
	mu            sync.RWMutex
	defaultLogger = New(os.Stderr, DefaultConfig())
)

// Setup installs the logger described by cfg as the default.
func Setup(cfg Config) *log.Logger {
	logger := New(Writer(cfg), cfg)
	SetDefault(logger)
	return logger
}

// SetDefault replaces the process logger.
func SetDefault(logger *log.Logger) {
	if logger == nil {
		return
	}
	mu.Lock()
	defaultLogger = logger
	mu.Unlock()
}

// Default returns the process logger.
func Default() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}
