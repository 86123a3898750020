// Package ctllog is the controller (operational) logger: a single
// controller.log file, rotated and retained via logrotate, fed through
// zlog's leveled structured logger (spec §4.I, §7).
package ctllog

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/duskwatch/gravastar/logrotate"
	"github.com/semihalev/zlog/v2"
)

const maxBytesDefault = 100 * 1024 * 1024

// Level mirrors the original's LOG_DEBUG..LOG_ERROR ordering (spec §4.I).
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel accepts "debug", "info", "warn", or "error" case-insensitively.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return Debug, true
	case "info":
		return Info, true
	case "warn":
		return Warn, true
	case "error":
		return Error, true
	default:
		return 0, false
	}
}

// Logger writes level-filtered, escaped lines to controller.log through its
// own zlog structured logger bound to the rotating file.
type Logger struct {
	mu       sync.Mutex
	enabled  bool
	file     *logrotate.File
	minLevel atomic.Int32
	zl       *zlog.StructuredLogger
}

// New returns a Logger writing into dir at minLevel and above. If dir
// cannot be created, the Logger falls back to writing to stderr.
func New(dir string, minLevel Level) *Logger {
	return NewWithMaxBytes(dir, minLevel, maxBytesDefault)
}

// NewWithMaxBytes is New with an explicit rotation threshold, for tests.
func NewWithMaxBytes(dir string, minLevel Level, maxBytes int64) *Logger {
	l := &Logger{
		file: logrotate.New(dir, "controller.log", maxBytes),
	}
	l.minLevel.Store(int32(minLevel))
	l.enabled = ensureDirectory(dir)
	l.zl = zlog.NewStructured()
	l.zl.SetWriter(l)
	l.zl.SetLevel(zlog.LevelDebug)
	return l
}

// Write implements io.Writer so zlog can be pointed at this Logger's
// rotating file directly.
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		os.Stderr.Write(p)
		return len(p), nil
	}
	if err := l.file.WriteLine(strings.TrimRight(string(p), "\n")); err != nil {
		os.Stderr.Write(p)
	}
	return len(p), nil
}

// SetLevel updates the minimum level logged from this point on.
func (l *Logger) SetLevel(level Level) {
	l.minLevel.Store(int32(level))
}

func (l *Logger) enabledFor(level Level) bool {
	return level >= Level(l.minLevel.Load())
}

func (l *Logger) log(level Level, msg string, kv []any) {
	if !l.enabledFor(level) {
		return
	}
	safe := escape(msg)
	switch level {
	case Debug:
		l.zl.DebugKV(safe, kv...)
	case Info:
		l.zl.InfoKV(safe, kv...)
	case Warn:
		l.zl.WarnKV(safe, kv...)
	default:
		l.zl.ErrorKV(safe, kv...)
	}
}

// Debugf logs at debug level with printf-style formatting (used for the
// transport-layer debug events upstream.DebugFunc produces).
func (l *Logger) Debugf(format string, args ...any) {
	l.log(Debug, fmt.Sprintf(format, args...), nil)
}

// Debug logs a structured message at debug level.
func (l *Logger) Debug(msg string, kv ...any) { l.log(Debug, msg, kv) }

// Info logs a structured message at info level.
func (l *Logger) Info(msg string, kv ...any) { l.log(Info, msg, kv) }

// Warn logs a structured message at warn level.
func (l *Logger) Warn(msg string, kv ...any) { l.log(Warn, msg, kv) }

// Err logs a structured message at error level.
func (l *Logger) Err(msg string, kv ...any) { l.log(Error, msg, kv) }

// escape replaces newlines and carriage returns with spaces so a single log
// line can never be split by attacker- or operator-controlled payload data
// (spec §4.I).
func escape(msg string) string {
	r := strings.NewReplacer("\n", " ", "\r", " ")
	return r.Replace(msg)
}

func ensureDirectory(dir string) bool {
	info, err := os.Stat(dir)
	if err == nil {
		return info.IsDir()
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		info, statErr := os.Stat(dir)
		return statErr == nil && info.IsDir()
	}
	return true
}

var global atomic.Pointer[Logger]

// SetGlobal installs l as the process-wide controller logger sink.
func SetGlobal(l *Logger) {
	global.Store(l)
}

// Global returns the process-wide controller logger, or nil if unset.
func Global() *Logger {
	return global.Load()
}
