// Package logger holds the process-wide slog loggers: the application logger
// returned by L and Named, and the audit logger returned by Audit.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the rotated audit log file.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu      sync.RWMutex
	level   = new(slog.LevelVar)
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
)

// Init builds the global loggers from cfg. It may be called again to replace
// them; writers opened by the previous call are closed first.
func Init(cfg Config) error {
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level, AddSource: true}

	var opened []io.Closer
	handler, err := buildHandler(cfg.Format, cfg.OutputPaths, opts, &opened)
	if err != nil {
		closeAll(opened)
		return err
	}
	appLogger := slog.New(handler)
	auditLogger := appLogger
	if cfg.Audit.Enabled {
		if auditLogger, err = buildAuditLogger(cfg.Audit, &opened); err != nil {
			closeAll(opened)
			return err
		}
	}

	mu.Lock()
	previous := closers
	app, audit, closers = appLogger, auditLogger, opened
	mu.Unlock()
	closeAll(previous)
	return nil
}

// SetLevel changes the application log level at runtime.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions, opened *[]io.Closer) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		w, err := openOutput(out, opened)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func openOutput(path string, opened *[]io.Closer) (io.Writer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	*opened = append(*opened, file)
	return file, nil
}

func buildAuditLogger(cfg AuditConfig, opened *[]io.Closer) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 7),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		Compress:   cfg.Compress,
	}
	*opened = append(*opened, writer)
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func closeAll(cs []io.Closer) error {
	var err error
	for _, c := range cs {
		err = errors.Join(err, c.Close())
	}
	return err
}

// L returns the application logger, falling back to a JSON stdout logger
// when Init has not been called.
func L() *slog.Logger {
	mu.RLock()
	l := app
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if app == nil {
		app = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return app
}

// Audit returns the audit logger, or the application logger when auditing is off.
func Audit() *slog.Logger {
	mu.RLock()
	l := audit
	mu.RUnlock()
	if l != nil {
		return l
	}
	return L()
}

// Sync closes the files opened by Init so buffered entries reach disk.
func Sync() error {
	mu.Lock()
	cs := closers
	closers = nil
	mu.Unlock()
	return closeAll(cs)
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// SetDefault replaces both loggers, mainly for tests that capture output.
func SetDefault(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	app, audit = l, l
}
