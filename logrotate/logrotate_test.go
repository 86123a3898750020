package logrotate

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_WriteLine_AppendsAndCreates(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "pass.log", 1<<20)
	defer f.Close()

	assert.NoError(t, f.WriteLine("first"))
	assert.NoError(t, f.WriteLine("second"))

	data, err := os.ReadFile(filepath.Join(dir, "pass.log"))
	assert.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func Test_RotateIfNeeded_RotatesOverThreshold(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "pass.log", 10) // tiny threshold
	defer f.Close()

	assert.NoError(t, f.WriteLine("0123456789012345")) // triggers rotation on next write
	assert.NoError(t, f.WriteLine("more"))

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)

	var rotatedFound, liveFound bool
	for _, e := range entries {
		if e.Name() == "pass.log" {
			liveFound = true
		}
		if strings.HasSuffix(e.Name(), "_pass.log") || strings.HasSuffix(e.Name(), "_pass.log.gz") {
			rotatedFound = true
		}
	}
	assert.True(t, liveFound, "live file should exist after rotation")
	assert.True(t, rotatedFound, "a rotated file should exist")
}

func Test_CleanupOld_KeepsOnlyRetainNewest(t *testing.T) {
	dir := t.TempDir()

	// Seed Retain+5 fake rotated files with increasing epoch prefixes.
	base := time.Now().Unix() - 1000
	for i := 0; i < Retain+5; i++ {
		name := filepath.Join(dir, strconv.FormatInt(base+int64(i), 10)+"_pass.log.gz")
		assert.NoError(t, os.WriteFile(name, []byte("x"), 0644))
	}

	cleanupOld(dir, "_pass.log.gz", Retain)

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, Retain)
}

func Test_UniqueRotatedName_AvoidsCollision(t *testing.T) {
	dir := t.TempDir()
	first := uniqueRotatedName(dir, "pass.log")
	assert.NoError(t, os.WriteFile(first, []byte("x"), 0644))

	second := uniqueRotatedName(dir, "pass.log")
	assert.NotEqual(t, first, second)
}
