package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config controls the process-wide logger.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json, text
}

var (
	mu      sync.RWMutex
	slogger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	exit    = osExit
)

var osExit = os.Exit

// Init configures the logger writing to stdout.
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter configures the logger writing to w.
func InitWithWriter(cfg Config, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	mu.Lock()
	slogger = slog.New(h)
	mu.Unlock()

	Info("logger initialized", map[string]any{"level": opts.Level.Level().String()})
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, fields map[string]any) {
	emit(slog.LevelDebug, msg, fields)
}

func Info(msg string, fields map[string]any) {
	emit(slog.LevelInfo, msg, fields)
}

func Warn(msg string, fields map[string]any) {
	emit(slog.LevelWarn, msg, fields)
}

func Error(msg string, fields map[string]any) {
	emit(slog.LevelError, msg, fields)
}

// Fatal logs at error level and exits the process.
func Fatal(msg string, fields map[string]any) {
	emit(slog.LevelError, msg, fields)
	exit(1)
}

func emit(level slog.Level, msg string, fields map[string]any) {
	mu.RLock()
	l := slogger
	mu.RUnlock()

	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	l.Log(context.Background(), level, msg, attrs...)
}
