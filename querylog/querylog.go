// Package querylog writes the pass.log/block.log data-plane audit trail
// (spec §4.H): one key=value line per resolved or blocked query, rotated
// and retained via logrotate.
package querylog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/duskwatch/gravastar/logrotate"
)

const maxBytesDefault = 100 * 1024 * 1024

// Logger serializes writes to pass.log and block.log behind a single mutex,
// mirroring the original implementation's single-lock design.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	pass    *logrotate.File
	block   *logrotate.File
}

// New returns a Logger writing into dir. If dir cannot be created or is not
// a directory, the Logger is disabled: logging calls become no-ops instead
// of failing callers.
func New(dir string) *Logger {
	return NewWithMaxBytes(dir, maxBytesDefault)
}

// NewWithMaxBytes is New with an explicit rotation threshold, for tests.
func NewWithMaxBytes(dir string, maxBytes int64) *Logger {
	l := &Logger{
		pass:  logrotate.New(dir, "pass.log", maxBytes),
		block: logrotate.New(dir, "block.log", maxBytes),
	}
	l.enabled = ensureDirectory(dir)
	return l
}

// LogPass records a successfully resolved query.
func (l *Logger) LogPass(clientIP, clientName, qname, qtype, resolvedBy, upstream string) bool {
	line := buildPassLine(clientIP, clientName, qname, qtype, resolvedBy, upstream)
	return l.write(l.pass, line)
}

// LogBlock records a blocklist-rejected query.
func (l *Logger) LogBlock(clientIP, clientName, qname, qtype string) bool {
	line := buildBlockLine(clientIP, clientName, qname, qtype)
	return l.write(l.block, line)
}

func (l *Logger) write(f *logrotate.File, line string) bool {
	if !l.enabled {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return f.WriteLine(line) == nil
}

func buildPassLine(clientIP, clientName, qname, qtype, resolvedBy, upstream string) string {
	line := fmt.Sprintf("ts=%s client_ip=%s client_name=%s qname=%s qtype=%s resolved_by=%s",
		nowString(), clientIP, clientName, qname, qtype, resolvedBy)
	if upstream != "" {
		line += " upstream=" + upstream
	}
	return line
}

func buildBlockLine(clientIP, clientName, qname, qtype string) string {
	return fmt.Sprintf("ts=%s client_ip=%s client_name=%s qname=%s qtype=%s",
		nowString(), clientIP, clientName, qname, qtype)
}

func nowString() string {
	return time.Now().Format("2006-01-02T15:04:05")
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
