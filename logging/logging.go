package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

func init() {
	// Default to INFO level
	InitLogger("info")
}

// ParseLevel maps a configuration string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger initializes the global logger with the specified level
func InitLogger(level string) {
	InitLoggerWithFormat(level, "text")
}

// InitLoggerWithFormat initializes the global logger writing text or json to stderr.
func InitLoggerWithFormat(level, format string) {
	setLogger(newLogger(os.Stderr, level, format))
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func setLogger(l *slog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// GetLogger returns the global logger instance
func GetLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// For returns the global logger tagged with a component name.
func For(component string) *slog.Logger {
	return GetLogger().With("component", component)
}
