package main

import (
	"os"
	"testing"

	"github.com/duskwatch/gravastar/config"
	"github.com/duskwatch/gravastar/records"
	"github.com/stretchr/testify/assert"
)

func Test_Run_HelpExitsZero(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"gravastar", "-h"}
	assert.Equal(t, 0, run())
}

func Test_Run_UnknownFlagExitsOne(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"gravastar", "-not-a-real-flag"}
	assert.Equal(t, 1, run())
}

func Test_Run_MissingConfigExitsOne(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	dir := t.TempDir()
	os.Args = []string{"gravastar", "-c", dir}
	assert.Equal(t, 1, run())
}

func Test_ToSlice(t *testing.T) {
	set := map[string]struct{}{"a.com": {}, "b.com": {}}
	got := toSlice(set)
	assert.ElementsMatch(t, []string{"a.com", "b.com"}, got)
}

func Test_ToRecordSlice(t *testing.T) {
	recs := []config.LocalRecord{{Name: "a.lan", Type: "a", Value: "10.0.0.1"}}
	got := toRecordSlice(recs)
	assert.Equal(t, []records.Record{{Name: "a.lan", Type: "a", Value: "10.0.0.1"}}, got)
}
