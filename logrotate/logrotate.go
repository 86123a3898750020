// Package logrotate implements the size-triggered rotate/compress/retain
// cycle shared by the query logger and the controller logger (spec §4.H,
// §4.I): a log file is renamed to an epoch-stamped name once it reaches a
// byte threshold, compressed with gzip, and the oldest rotated files beyond
// a retention count are removed.
package logrotate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Retain is the number of rotated, compressed files kept per base name
// before the oldest are unlinked.
const Retain = 10

// File is a single append-only log file with rotate-on-size behaviour.
// It is not internally synchronized; callers serialize access.
type File struct {
	dir      string
	name     string
	path     string
	maxBytes int64
	f        *os.File
}

// New returns a File for dir/name, rotating once it reaches maxBytes.
func New(dir, name string, maxBytes int64) *File {
	return &File{
		dir:      dir,
		name:     name,
		path:     filepath.Join(dir, name),
		maxBytes: maxBytes,
	}
}

// EnsureOpen opens the underlying file for appending if not already open.
func (lf *File) EnsureOpen() error {
	if lf.f != nil {
		return nil
	}
	f, err := os.OpenFile(lf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logrotate: open %s: %w", lf.path, err)
	}
	lf.f = f
	return nil
}

// RotateIfNeeded renames and compresses the file if it has reached maxBytes,
// then prunes old rotated files beyond Retain. It is a no-op (not an error)
// when the file doesn't need rotation yet.
func (lf *File) RotateIfNeeded() {
	info, err := os.Stat(lf.path)
	if err != nil {
		return
	}
	if info.Size() < lf.maxBytes {
		return
	}

	if lf.f != nil {
		lf.f.Close()
		lf.f = nil
	}

	rotated := uniqueRotatedName(lf.dir, lf.name)
	if err := os.Rename(lf.path, rotated); err != nil {
		return
	}
	compressFile(rotated)
	cleanupOld(lf.dir, "_"+lf.name+".gz", Retain)
}

// WriteLine appends line plus a trailing newline, rotating first if needed.
func (lf *File) WriteLine(line string) error {
	if err := lf.EnsureOpen(); err != nil {
		return err
	}
	lf.RotateIfNeeded()
	if err := lf.EnsureOpen(); err != nil {
		return err
	}
	if _, err := lf.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("logrotate: write %s: %w", lf.path, err)
	}
	return lf.f.Sync()
}

// Close releases the underlying file handle, if open.
func (lf *File) Close() error {
	if lf.f == nil {
		return nil
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}

func uniqueRotatedName(dir, baseName string) string {
	now := time.Now().Unix()
	candidate := filepath.Join(dir, fmt.Sprintf("%d_%s", now, baseName))
	if _, err := os.Stat(candidate); err != nil {
		return candidate
	}
	for i := 1; i < 1000; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%d_%d_%s", now, i, baseName))
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
	return candidate
}

// compressFile gzips path in place via the external gzip binary, matching
// the original fork+execlp("gzip", "-f", path) approach rather than Go's
// in-process compress/gzip: the observable contract is only that the
// rotated file ends up with a .gz suffix.
func compressFile(path string) {
	cmd := exec.Command("gzip", "-f", path)
	cmd.Run()
}

func cleanupOld(dir, suffix string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type stamped struct {
		ts   int64
		name string
	}
	var rotated []stamped

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		underscore := strings.IndexByte(name, '_')
		if underscore == -1 {
			continue
		}
		ts, err := strconv.ParseInt(name[:underscore], 10, 64)
		if err != nil || ts <= 0 {
			continue
		}
		rotated = append(rotated, stamped{ts, name})
	}

	if len(rotated) <= keep {
		return
	}

	sort.Slice(rotated, func(i, j int) bool {
		if rotated[i].ts != rotated[j].ts {
			return rotated[i].ts < rotated[j].ts
		}
		return rotated[i].name < rotated[j].name
	})

	for _, r := range rotated[:len(rotated)-keep] {
		os.Remove(filepath.Join(dir, r.name))
	}
}
