// Package logx writes the broker's rolling engine.log. Lines carry an
// ISO-8601 timestamp and a level tag in {DEBUG, WARNING, CRITICAL,
// FATAL}; the file rolls over to engine.log.1 when it exceeds 10 MiB.
package logx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelFatal sits above slog.LevelError; logging at it also terminates
// the process via Fatal.
const LevelFatal = slog.Level(12)

const maxLogSize = 10 * 1024 * 1024

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger writing to path. An empty path
// logs to stderr. Invalid levels fall back to DEBUG.
func Setup(path, level string) {
	once.Do(func() {
		var l slog.Level
		switch strings.ToUpper(level) {
		case "DEBUG":
			l = slog.LevelDebug
		case "WARNING", "WARN":
			l = slog.LevelWarn
		case "CRITICAL", "ERROR":
			l = slog.LevelError
		default:
			l = slog.LevelDebug
		}

		logger = slog.New(newHandler(path, l))
		slog.SetDefault(logger)
	})
}

// Get returns the configured logger, or a stderr logger if Setup has
// not been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("", "DEBUG")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warning logs at WARNING level.
func Warning(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Critical logs at CRITICAL level.
func Critical(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Fatal logs at FATAL level and exits.
func Fatal(msg string, args ...any) {
	Get().Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

// EngineLogPath returns the log path alongside the running executable.
func EngineLogPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "engine.log"
	}
	return filepath.Join(filepath.Dir(exe), "engine.log")
}

// handler formats records as "<ISO-8601> <LEVEL> <msg> k=v ..." and
// handles file rollover.
type handler struct {
	mu    *sync.Mutex
	path  string
	file  *os.File
	level slog.Level
	attrs []slog.Attr
}

func newHandler(path string, level slog.Level) *handler {
	h := &handler{mu: &sync.Mutex{}, path: path, level: level}
	if path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			h.file = f
		} else {
			fmt.Fprintf(os.Stderr, "logx: cannot open %s: %v\n", path, err)
		}
	}
	return h
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func levelTag(level slog.Level) string {
	switch {
	case level >= LevelFatal:
		return "FATAL"
	case level >= slog.LevelError:
		return "CRITICAL"
	case level >= slog.LevelWarn:
		return "WARNING"
	default:
		return "DEBUG"
	}
}

// FormatLine renders one log line without writing it. Exposed for
// tests.
func FormatLine(t time.Time, level slog.Level, msg string, attrs []slog.Attr) string {
	var b strings.Builder
	b.WriteString(t.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelTag(level))
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(fmt.Sprint(a.Value.Any()))
	}
	b.WriteByte('\n')
	return b.String()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	line := FormatLine(r.Time, r.Level, r.Message, attrs)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		_, err := os.Stderr.WriteString(line)
		return err
	}

	h.rollover()
	_, err := h.file.WriteString(line)
	return err
}

// rollover renames the log to .1 and reopens once it exceeds the size
// cap. Callers hold the mutex.
func (h *handler) rollover() {
	info, err := h.file.Stat()
	if err != nil || info.Size() < maxLogSize {
		return
	}
	h.file.Close()
	os.Rename(h.path, h.path+".1")
	if f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		h.file = f
	} else {
		h.file = nil
	}
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *handler) WithGroup(_ string) slog.Handler {
	// Groups are not used in engine.log lines.
	return h
}
