package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/duskwatch/gravastar/blocklist"
	"github.com/duskwatch/gravastar/cache"
	"github.com/duskwatch/gravastar/config"
	"github.com/duskwatch/gravastar/ctllog"
	"github.com/duskwatch/gravastar/querylog"
	"github.com/duskwatch/gravastar/records"
	"github.com/duskwatch/gravastar/resolver"
	"github.com/duskwatch/gravastar/server"
	"github.com/duskwatch/gravastar/updater"
	"github.com/duskwatch/gravastar/upstream"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-c config_dir] [-u upstream_blocklists] [-d]\n", os.Args[0])
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("gravastar", flag.ContinueOnError)

	configDir := fs.String("c", "/etc/gravastar", "configuration directory")
	upstreamPath := fs.String("u", "", "upstream blocklist config path")
	debug := fs.Bool("d", false, "enable debug logging")
	fs.BoolVar(debug, "debug", false, "enable debug logging")
	help := fs.Bool("h", false, "show usage")
	fs.BoolVar(help, "help", false, "show usage")

	fs.Usage = func() {}
	if err := fs.Parse(os.Args[1:]); err != nil {
		printUsage()
		return 1
	}
	if *help {
		printUsage()
		return 0
	}

	logDir := config.LogDir()
	ctl := ctllog.New(logDir, ctllog.Debug)
	ctllog.SetGlobal(ctl)
	if !*debug {
		ctl.SetLevel(ctllog.Info)
	}
	if *debug {
		ctl.Debug("debug logging enabled")
		ctl.Debug("using config directory", "dir", *configDir)
	}

	mainPath := filepath.Join(*configDir, "gravastar.toml")
	cfg, err := config.LoadMainConfig(mainPath)
	if err != nil {
		ctl.Err("config error", "error", err.Error())
		fmt.Fprintln(os.Stderr, "Config error:", err)
		return 1
	}
	if level, ok := ctllog.ParseLevel(cfg.LogLevel); ok && !*debug {
		ctl.SetLevel(level)
	}

	blockPath := filepath.Join(*configDir, cfg.BlocklistFile)
	blockDomains, err := config.LoadBlocklist(blockPath)
	if err != nil {
		ctl.Err("blocklist error", "error", err.Error())
		fmt.Fprintln(os.Stderr, "Blocklist error:", err)
		return 1
	}

	localPath := filepath.Join(*configDir, cfg.LocalRecordsFile)
	localRecs, err := config.LoadLocalRecords(localPath)
	if err != nil {
		ctl.Err("local records error", "error", err.Error())
		fmt.Fprintln(os.Stderr, "Local records error:", err)
		return 1
	}

	upstreamsPath := filepath.Join(*configDir, cfg.UpstreamsFile)
	udpServers, dotServers, err := config.LoadUpstreams(upstreamsPath)
	if err != nil {
		ctl.Err("upstreams error", "error", err.Error())
		fmt.Fprintln(os.Stderr, "Upstreams error:", err)
		return 1
	}
	if len(dotServers) > 0 {
		ctl.Debug("DoT servers configured")
	}

	bl := blocklist.New()
	bl.SetDomains(toSlice(blockDomains))

	rec := records.New()
	rec.Load(toRecordSlice(localRecs))

	c := cache.New(cfg.CacheSizeBytes(), cfg.CacheTTLSec)

	up := upstream.New(udpServers, dotServers, cfg.DotVerify, ctl.Debugf)

	engine := resolver.New(bl, rec, c, up, ctl)

	ql := querylog.New(logDir)

	upstreamBlocklistPath := config.ResolveUpstreamBlocklistPath(*upstreamPath, *configDir)
	upstreamPathForced := *upstreamPath != ""

	var upd *updater.Updater
	if _, statErr := os.Stat(upstreamBlocklistPath); statErr == nil {
		ubCfg, err := config.LoadUpstreamBlocklistConfig(upstreamBlocklistPath)
		if err != nil {
			ctl.Err("upstream blocklist config error", "error", err.Error())
			fmt.Fprintln(os.Stderr, "Upstream blocklist config error:", err)
			return 1
		}
		upd = updater.New(updater.Config{
			URLs:                ubCfg.URLs,
			UpdateIntervalSec:   ubCfg.UpdateIntervalSec,
			CacheDir:            ubCfg.CacheDir,
			CustomBlocklistPath: blockPath,
			OutputPath:          blockPath,
		}, bl, ctl)
		upd.Start()
	} else if upstreamPathForced {
		ctl.Err("upstream blocklist config not found", "path", upstreamBlocklistPath)
		fmt.Fprintln(os.Stderr, "Upstream blocklist config not found:", upstreamBlocklistPath)
		return 1
	}

	srv := server.New(server.Config{
		ListenAddr:  cfg.ListenAddr,
		ListenPort:  cfg.ListenPort,
		MetricsAddr: cfg.MetricsAddr,
	}, engine, ql, ctl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		srv.Stop()
	}()

	runErr := srv.Run()

	if upd != nil {
		upd.Stop()
	}

	if runErr != nil {
		ctl.Err("failed to start DNS server", "error", runErr.Error())
		fmt.Fprintln(os.Stderr, "Failed to start DNS server:", runErr)
		return 1
	}
	return 0
}

func toSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

func toRecordSlice(recs []config.LocalRecord) []records.Record {
	out := make([]records.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, records.Record{Name: r.Name, Type: r.Type, Value: r.Value})
	}
	return out
}
