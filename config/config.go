// Package config loads gravastar's four on-disk file dialects (spec §6):
// the main server config, the operator blocklist, local records, and
// upstream server lists. All four are valid-enough TOML that a single
// decoder handles them, so this package leans entirely on BurntSushi/toml
// rather than the original's hand-rolled line parser.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/duskwatch/gravastar/wire"
)

// ServerConfig is the main configuration file's decoded form (spec §6).
type ServerConfig struct {
	ListenAddr        string `toml:"listen_addr"`
	ListenPort        int    `toml:"listen_port"`
	CacheSizeMB       int    `toml:"cache_size_mb"`
	CacheTTLSec       int    `toml:"cache_ttl_sec"`
	DotVerify         bool   `toml:"dot_verify"`
	RebindProtection  bool   `toml:"rebind_protection"`
	LogLevel          string `toml:"log_level"`
	BlocklistFile     string `toml:"blocklist_file"`
	LocalRecordsFile  string `toml:"local_records_file"`
	UpstreamsFile     string `toml:"upstreams_file"`
	MetricsAddr       string `toml:"metrics_addr"`
}

// CacheSizeBytes converts the configured megabyte budget to bytes.
func (c *ServerConfig) CacheSizeBytes() int {
	return c.CacheSizeMB * 1024 * 1024
}

// Default returns a ServerConfig populated with spec §6's documented
// defaults, before any file is decoded over it.
func Default() ServerConfig {
	return ServerConfig{
		ListenAddr:       "0.0.0.0",
		ListenPort:       53,
		CacheSizeMB:      100,
		CacheTTLSec:      120,
		DotVerify:        true,
		RebindProtection: false,
		LogLevel:         "debug",
		BlocklistFile:    "blocklist.toml",
		LocalRecordsFile: "local_records.toml",
		UpstreamsFile:    "upstreams.toml",
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// LoadMainConfig decodes path over the documented defaults and validates
// log_level.
func LoadMainConfig(path string) (ServerConfig, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ServerConfig{}, fmt.Errorf("config: invalid log_level %q in %s", cfg.LogLevel, path)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return cfg, nil
}

// blocklistFile is the decoding target for a `domains = [...]` file.
type blocklistFile struct {
	Domains []string `toml:"domains"`
}

// LoadBlocklist decodes the operator blocklist file into a canonicalized
// domain set.
func LoadBlocklist(path string) (map[string]struct{}, error) {
	var decoded blocklistFile
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return nil, fmt.Errorf("config: load blocklist %s: %w", path, err)
	}
	set := make(map[string]struct{}, len(decoded.Domains))
	for _, d := range decoded.Domains {
		set[wire.CanonicalName(d)] = struct{}{}
	}
	return set, nil
}

// LocalRecord mirrors a single [[record]] table entry.
type LocalRecord struct {
	Name  string `toml:"name"`
	Type  string `toml:"type"`
	Value string `toml:"value"`
}

type localRecordsFile struct {
	Record []LocalRecord `toml:"record"`
}

// LoadLocalRecords decodes zero or more [[record]] tables. Every entry must
// have all three fields set.
func LoadLocalRecords(path string) ([]LocalRecord, error) {
	var decoded localRecordsFile
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return nil, fmt.Errorf("config: load local records %s: %w", path, err)
	}
	for i, r := range decoded.Record {
		if r.Name == "" || r.Type == "" || r.Value == "" {
			return nil, fmt.Errorf("config: incomplete local record at index %d in %s", i, path)
		}
		decoded.Record[i].Name = wire.CanonicalName(r.Name)
		decoded.Record[i].Type = strings.ToLower(r.Type)
	}
	return decoded.Record, nil
}

// upstreamsFile is the decoding target for the udp_servers/dot_servers file.
type upstreamsFile struct {
	UDPServers []string `toml:"udp_servers"`
	DoTServers []string `toml:"dot_servers"`
}

// LoadUpstreams decodes the upstream server lists.
func LoadUpstreams(path string) (udpServers, dotServers []string, err error) {
	var decoded upstreamsFile
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return nil, nil, fmt.Errorf("config: load upstreams %s: %w", path, err)
	}
	return decoded.UDPServers, decoded.DoTServers, nil
}

// UpstreamBlocklistConfig is the decoded form of the upstream-blocklist
// updater's own config file.
type UpstreamBlocklistConfig struct {
	UpdateIntervalSec int      `toml:"update_interval_sec"`
	URLs              []string `toml:"urls"`
	CacheDir          string   `toml:"cache_dir"`
}

// LoadUpstreamBlocklistConfig decodes the updater config, coercing a zero
// or negative interval to one hour (spec §4.J).
func LoadUpstreamBlocklistConfig(path string) (UpstreamBlocklistConfig, error) {
	var decoded UpstreamBlocklistConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return UpstreamBlocklistConfig{}, fmt.Errorf("config: load upstream blocklist config %s: %w", path, err)
	}
	if decoded.UpdateIntervalSec <= 0 {
		decoded.UpdateIntervalSec = 3600
	}
	return decoded, nil
}

// ResolveUpstreamBlocklistPath applies the CLI's -u default-resolution rule
// (spec §6): an explicit path is used as-is; otherwise the path defaults to
// "upstream_blocklists.toml" inside configDir.
func ResolveUpstreamBlocklistPath(explicit, configDir string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(configDir, "upstream_blocklists.toml")
}

// LogDir returns GRAVASTAR_LOG_DIR if set, else the documented default.
func LogDir() string {
	if dir := os.Getenv("GRAVASTAR_LOG_DIR"); dir != "" {
		return dir
	}
	return "/var/log/gravastar"
}
