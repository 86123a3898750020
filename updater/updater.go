// Package updater implements the periodic upstream blocklist refresher
// (spec §4.J): fetch each configured URL, fall back to a per-URL on-disk
// cache on failure, merge with the operator's own blocklist file, publish
// the union atomically, and hot-swap it into the live matcher.
package updater

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/duskwatch/gravastar/blocklist"
	"github.com/duskwatch/gravastar/config"
)

const fetchTimeout = 10 * time.Second

// Logger is the narrow logging surface the updater needs; satisfied by
// *ctllog.Logger.
type Logger interface {
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Err(msg string, kv ...any)
	Debugf(format string, args ...any)
}

// Config is the updater's runtime configuration, combining the fetched-list
// settings with the paths it reads from and publishes to.
type Config struct {
	URLs               []string
	UpdateIntervalSec  int
	CacheDir           string
	CustomBlocklistPath string
	OutputPath         string
}

// Updater runs UpdateOnce on a timer and on operator blocklist file edits,
// publishing into the given Matcher.
type Updater struct {
	cfg     Config
	matcher *blocklist.Matcher
	log     Logger
	client  *http.Client

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New returns an Updater. log may be nil.
func New(cfg Config, matcher *blocklist.Matcher, log Logger) *Updater {
	return &Updater{
		cfg:     cfg,
		matcher: matcher,
		log:     log,
		client:  &http.Client{Timeout: fetchTimeout},
	}
}

func (u *Updater) infof(msg string, kv ...any) {
	if u.log != nil {
		u.log.Info(msg, kv...)
	}
}

func (u *Updater) warnf(msg string, kv ...any) {
	if u.log != nil {
		u.log.Warn(msg, kv...)
	}
}

func (u *Updater) errf(msg string, kv ...any) {
	if u.log != nil {
		u.log.Err(msg, kv...)
	}
}

// Start runs an immediate UpdateOnce, then loops on a ticker of
// UpdateIntervalSec (0 or negative coerced to 3600) plus an fsnotify watch
// on the operator blocklist file for immediate re-merge between ticks.
// Start returns once the background goroutine is running; Stop joins it.
func (u *Updater) Start() {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return
	}
	u.running = true
	u.stopCh = make(chan struct{})
	u.doneCh = make(chan struct{})
	u.mu.Unlock()

	go u.loop()
	u.infof("upstream blocklist updater started")
}

// Stop signals the background loop to exit and waits for it to finish.
func (u *Updater) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	close(u.stopCh)
	done := u.doneCh
	u.mu.Unlock()

	<-done
	u.infof("upstream blocklist updater stopped")
}

func (u *Updater) loop() {
	defer close(u.doneCh)

	interval := time.Duration(u.cfg.UpdateIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		defer watcher.Close()
		if u.cfg.CustomBlocklistPath != "" {
			if err := watcher.Add(filepath.Dir(u.cfg.CustomBlocklistPath)); err != nil {
				u.warnf("blocklist file watch failed", "error", err.Error())
			}
		}
	}

	u.infof("upstream blocklist initial update")
	if err := u.UpdateOnce(); err != nil {
		u.errf("upstream blocklist update failed", "error", err.Error())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-u.stopCh:
			return
		case <-ticker.C:
			u.infof("upstream blocklist periodic update")
			if err := u.UpdateOnce(); err != nil {
				u.errf("upstream blocklist update failed", "error", err.Error())
			}
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(u.cfg.CustomBlocklistPath) {
				continue
			}
			u.infof("operator blocklist changed, re-merging")
			if err := u.UpdateOnce(); err != nil {
				u.errf("upstream blocklist update failed", "error", err.Error())
			}
		}
	}
}

func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

// UpdateOnce fetches every configured URL (falling back to its on-disk
// cache on failure), merges with the operator blocklist, publishes the
// union to OutputPath, and hot-swaps it into the matcher.
func (u *Updater) UpdateOnce() error {
	if err := os.MkdirAll(u.cfg.CacheDir, 0755); err != nil {
		return fmt.Errorf("updater: cache dir %s: %w", u.cfg.CacheDir, err)
	}

	domains, err := u.buildFromSources()
	if err != nil {
		return err
	}

	if u.cfg.CustomBlocklistPath != "" {
		custom, err := config.LoadBlocklist(u.cfg.CustomBlocklistPath)
		if err != nil {
			return fmt.Errorf("updater: custom blocklist load: %w", err)
		}
		for d := range custom {
			domains[d] = struct{}{}
		}
	}

	if err := writeBlocklistTOML(u.cfg.OutputPath, domains); err != nil {
		return fmt.Errorf("updater: publish blocklist: %w", err)
	}

	u.matcher.SetDomains(domainSlice(domains))
	u.infof("upstream blocklist updated", "domains", len(domains))
	return nil
}

func domainSlice(domains map[string]struct{}) []string {
	out := make([]string, 0, len(domains))
	for d := range domains {
		out = append(out, d)
	}
	return out
}

func (u *Updater) buildFromSources() (map[string]struct{}, error) {
	if len(u.cfg.URLs) == 0 {
		return nil, fmt.Errorf("updater: no upstream urls configured")
	}

	domains := make(map[string]struct{})
	for _, url := range u.cfg.URLs {
		cachePath := cachePathForURL(u.cfg.CacheDir, url)

		u.infof("upstream blocklist fetch", "url", url)
		content, fetchErr := u.fetch(url)
		if fetchErr == nil {
			if err := writeFileAtomic(cachePath, content); err != nil {
				u.warnf("failed to cache upstream blocklist", "url", url, "error", err.Error())
			}
			u.infof("upstream blocklist fetched", "url", url)
		} else if cached, readErr := os.ReadFile(cachePath); readErr == nil {
			content = cached
			u.warnf("upstream fetch failed, using cached copy", "url", url, "error", fetchErr.Error())
		} else {
			return nil, fmt.Errorf("updater: failed to fetch %s and no cache present: %w", url, fetchErr)
		}

		for d := range ParseUpstreamBlocklistContent(string(content)) {
			domains[d] = struct{}{}
		}
	}
	return domains, nil
}

func (u *Updater) fetch(url string) ([]byte, error) {
	resp, err := u.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func writeFileAtomic(path string, content []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// writeBlocklistTOML serializes domains as a `domains = [...]` file via
// write-temp-then-rename, per spec §4.J.
func writeBlocklistTOML(path string, domains map[string]struct{}) error {
	sorted := make([]string, 0, len(domains))
	for d := range domains {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString("domains = [\n")
	for _, d := range sorted {
		b.WriteString("  \"")
		b.WriteString(d)
		b.WriteString("\",\n")
	}
	b.WriteString("]\n")

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(b.String()), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
