package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/nearspeed/nearspeed/internal/config"
	"github.com/nearspeed/nearspeed/internal/history"
	"github.com/nearspeed/nearspeed/speedtest"
)

const (
	version = "1.0.0"

	exitOK    = 0
	exitInput = 1
	exitUsage = 2
)

var (
	downloadHost = kingpin.Flag("download", "Measure download bandwidth against HOST").Short('d').PlaceHolder("HOST").String()
	uploadHost   = kingpin.Flag("upload", "Measure upload bandwidth against HOST").Short('u').PlaceHolder("HOST").String()
	selectServer = kingpin.Flag("server", "Select the nearest reachable server from the list").Short('s').Bool()
	showLocation = kingpin.Flag("location", "Detect and show your location").Short('l').Bool()
	automated    = kingpin.Flag("automated", "Detect location, select a server, then measure download and upload").Short('a').Bool()

	serverList = kingpin.Flag("servers", "Server list JSON file").PlaceHolder("FILE").String()
	showList   = kingpin.Flag("list", "Show the loaded server list").Bool()
	at         = kingpin.Flag("at", "Use this location instead of detecting it").PlaceHolder("\"Country[,City]\"").String()
	timeout    = kingpin.Flag("timeout", "Transfer deadline per direction, e.g. 15s").Duration()
	uploadSize = kingpin.Flag("upload-size", "Upload payload size in MiB").Int()
	limit      = kingpin.Flag("limit", "Cap transfer rate in Mbps").Float64()
	unit       = kingpin.Flag("unit", "Rate unit: mbps, decimal-bits, decimal-bytes, binary-bits, binary-bytes").String()

	jsonOutput = kingpin.Flag("json", "Output results in json format").Bool()
	unixOutput = kingpin.Flag("unix", "Output results in plain lines without spinners").Bool()
	debug      = kingpin.Flag("debug", "Enable debug logging").Bool()
	configFile = kingpin.Flag("config", "YAML configuration file").PlaceHolder("FILE").String()

	save        = kingpin.Flag("save", "Store the automated run in the history database").Bool()
	historySize = kingpin.Flag("history", "Show the N most recent stored runs").PlaceHolder("N").Int()
	geoipDB     = kingpin.Flag("geoip-db", "MaxMind City database for offline location lookup").PlaceHolder("FILE").String()
	ipAddr      = kingpin.Flag("ip", "Address to look up in the GeoIP database").IP()
	mcpMode     = kingpin.Flag("mcp", "Serve MCP tools over stdio").Bool()
)

func main() {
	kingpin.Version(version)
	kingpin.CommandLine.HelpFlag.Short('h')
	if _, err := kingpin.CommandLine.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "nearspeed: error: %v\n", err)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	if *debug {
		speedtest.EnableDebug()
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nearspeed: %v\n", err)
		return exitUsage
	}
	cfg.ApplyEnv(os.Getenv, os.Stderr)
	if err := applyFlags(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "nearspeed: error: %v\n", err)
		return exitUsage
	}

	if *mcpMode {
		// stdout carries the protocol
		speedtest.SetDebugOutput(os.Stderr)
		return serveMCP(cfg)
	}

	if *historySize > 0 {
		return showHistory(cfg, *historySize)
	}

	if !hasMode() {
		kingpin.Usage()
		return exitUsage
	}

	var loc *speedtest.Location
	if *at != "" {
		if loc, err = speedtest.ParseLocation(*at); err != nil {
			fmt.Fprintf(os.Stderr, "nearspeed: error: %v\n", err)
			return exitUsage
		}
	}

	// spinners only make sense on a terminal
	plain := *unixOutput || !term.IsTerminal(int(os.Stdout.Fd()))
	tm := InitTaskManager(*jsonOutput, plain)
	defer tm.Stop()

	client := newClient(cfg)
	defer client.CloseIdleConnections()

	app := &runner{cfg: cfg, client: client, tm: tm, unit: cfg.UnitType(), loc: loc}
	return app.run(ctx)
}

func hasMode() bool {
	return *downloadHost != "" || *uploadHost != "" || *selectServer || *showLocation || *automated || *showList
}

// applyFlags overlays the flags that were given on the command line.
func applyFlags(cfg *config.Config) error {
	if *serverList != "" {
		cfg.ServerList = *serverList
	}
	if *timeout < 0 || *uploadSize < 0 || *limit < 0 {
		return errors.New("--timeout, --upload-size and --limit must be positive")
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *uploadSize > 0 {
		cfg.UploadSizeMB = *uploadSize
	}
	if *limit > 0 {
		cfg.RateLimitMbps = *limit
	}
	if *unit != "" {
		if _, err := speedtest.ParseUnit(*unit); err != nil {
			return err
		}
		cfg.Unit = *unit
	}
	if *geoipDB != "" {
		cfg.GeoIPDB = *geoipDB
	}
	return nil
}

func newClient(cfg *config.Config) *speedtest.Speedtest {
	uc := cfg.UserConfig()
	uc.Debug = *debug
	return speedtest.New(
		speedtest.WithUserConfig(uc),
		speedtest.WithGeoIP(cfg.GeoIPDB, *ipAddr),
	)
}

func showHistory(cfg *config.Config, n int) int {
	store, err := history.New(cfg.HistoryDB, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nearspeed: %v\n", err)
		return exitInput
	}
	defer store.Close()

	records, err := store.Recent(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nearspeed: %v\n", err)
		return exitInput
	}
	if *jsonOutput {
		printJSON(records)
		return exitOK
	}
	printHistory(os.Stdout, records, cfg.UnitType())
	return exitOK
}
