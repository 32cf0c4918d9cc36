// Package logging provides structured logging with file and console output.
// Entries are mirrored into a bounded in-memory history so the status server
// can replay recent lines and stream new ones to subscribers.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Entry is one log line as kept in the history ring and streamed to
// subscribers.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Logger wraps zerolog with file output, a history ring, and a streaming
// callback.
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	mu      sync.RWMutex
	history []Entry
	maxHist int
	onLog   func(Entry)
}

// Config holds logger configuration
type Config struct {
	LogDir     string   // directory for log files (default: ~/.clipforge/logs)
	Level      LogLevel // minimum log level (default: info)
	MaxHistory int      // max entries kept in memory (default: 500)
	Console    bool     // also log to stdout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".clipforge", "logs"),
		Level:      LevelInfo,
		MaxHistory: 500,
		Console:    true,
	}
}

// New creates a Logger writing to a dated file under cfg.LogDir.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 500
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("clipforge_%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	out := io.Writer(file)
	if cfg.Console {
		out = io.MultiWriter(file, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	level := zerolog.InfoLevel
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	l := &Logger{
		zlog: zerolog.New(out).With().
			Timestamp().
			Str("app", "clipforge").
			Logger(),
		file:    file,
		history: make([]Entry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}

	l.Info("logging", "Logger initialized", map[string]interface{}{
		"logFile": logPath,
		"level":   string(cfg.Level),
	})
	return l, nil
}

// SetOnLog sets the callback invoked for every new entry. The status server
// uses it to stream entries to WebSocket subscribers.
func (l *Logger) SetOnLog(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLog = fn
}

// GetHistory returns up to limit recent entries, oldest first. limit <= 0
// returns the full history.
func (l *Logger) GetHistory(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	out := make([]Entry, limit)
	copy(out, l.history[len(l.history)-limit:])
	return out
}

// Component returns a zerolog.Logger with the component field set, for
// packages that log directly.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Close closes the log file
func (l *Logger) Close() error {
	l.Info("logging", "Logger shutting down", nil)
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(component, msg string, data map[string]interface{}) {
	l.emit(l.zlog.Debug(), "debug", component, msg, nil, data)
}

// Info logs an info message
func (l *Logger) Info(component, msg string, data map[string]interface{}) {
	l.emit(l.zlog.Info(), "info", component, msg, nil, data)
}

// Warn logs a warning message
func (l *Logger) Warn(component, msg string, data map[string]interface{}) {
	l.emit(l.zlog.Warn(), "warn", component, msg, nil, data)
}

// Error logs an error message
func (l *Logger) Error(component, msg string, err error, data map[string]interface{}) {
	l.emit(l.zlog.Error(), "error", component, msg, err, data)
}

// emit writes the zerolog event and mirrors it into the history ring.
func (l *Logger) emit(ev *zerolog.Event, level, component, msg string, err error, data map[string]interface{}) {
	ev = ev.Str("component", component)
	if err != nil {
		ev = ev.Err(err)
	}
	for k, v := range data {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)

	l.record(Entry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     level,
		Component: component,
		Message:   msg,
		Data:      formatData(data, err),
	})
}

// record appends to the history ring and fires the streaming callback.
func (l *Logger) record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, e)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}

	if l.onLog != nil {
		go l.onLog(e)
	}
}

// formatData renders the data map (and error, if any) as a stable
// key-sorted string for the history entry.
func formatData(data map[string]interface{}, err error) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	if err != nil {
		parts = append(parts, "error="+err.Error())
	}
	return strings.Join(parts, ", ")
}
