// pulse-bridge polls the Pulse Grow cloud API and republishes hub and
// sensor telemetry over MQTT, using Home Assistant's MQTT discovery
// protocol so the devices appear natively in HA.
//
// Two jobs share one API client and one MQTT connection: a coarse
// discovery job that lists hubs and sensors and publishes retained
// device descriptors, and a fine state job that fetches each sensor's
// latest reading and publishes one message per measurement.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	pulse-bridge serve            Start the bridge
//	pulse-bridge discover         Run one discovery cycle and exit
//	pulse-bridge version          Print version and build information
//	pulse-bridge -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/terpasaurus/pulse-bridge/internal/bridge"
	"github.com/terpasaurus/pulse-bridge/internal/buildinfo"
	"github.com/terpasaurus/pulse-bridge/internal/config"
	"github.com/terpasaurus/pulse-bridge/internal/metrics"
	"github.com/terpasaurus/pulse-bridge/internal/mqtt"
	"github.com/terpasaurus/pulse-bridge/internal/pulse"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the pulse-bridge command. All
// OS-level dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the jobs and the MQTT connection.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:].
//
// Arguments are parsed by hand: the flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests, and the argument surface here
// is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "discover":
		return runDiscover(ctx, stdout, configPath)
	case "version":
		return printVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, `pulse-bridge - publish Pulse Grow sensors to Home Assistant via MQTT

Usage:
  pulse-bridge [flags] <command>

Commands:
  serve      Start the bridge (discovery + state update loops)
  discover   Run one discovery cycle and exit
  version    Print version and build information

Flags:
  -config <path>   Config file (default: search standard locations)
  -o <format>      Output format for version: text or json`)
	return nil
}

func printVersion(w io.Writer, format string) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(buildinfo.Info())
	}

	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-11s %s\n", k, info[k])
	}
	return nil
}

// runServe starts the bridge and blocks until a shutdown signal.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. Both job loops return at their next select
//  3. The MQTT publisher sends a retained "offline" availability
//     message and disconnects
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting pulse-bridge",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner and config errors.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by cfg.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"api", cfg.Pulse.BaseURL,
		"broker", cfg.MQTT.Broker,
		"state_interval", cfg.StateUpdateInterval(),
		"discovery_interval", cfg.DiscoveryInterval(),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load instance id: %w", err)
	}
	logger.Debug("instance ID loaded", "instance_id", instanceID)

	// --- Signal handling ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Components ---
	api := pulse.NewClient(cfg.Pulse.BaseURL, cfg.Pulse.APIKey, cfg.APITimeout(), logger)
	builder := bridge.NewBuilder(cfg.MQTT.DiscoveryPrefix, cfg.MQTT.StatePrefix)
	registry := bridge.NewRegistry()

	var mtr *metrics.Metrics
	if cfg.Metrics.Enabled {
		mtr = metrics.New()
	}

	pub := mqtt.New(cfg.MQTT, instanceID, logger)

	discovery := bridge.NewDiscovery(bridge.DiscoveryConfig{
		API:       api,
		Publisher: pub,
		Registry:  registry,
		Builder:   builder,
		Interval:  cfg.DiscoveryInterval(),
		Metrics:   mtr,
		Logger:    logger,
	})
	state := bridge.NewStateUpdater(bridge.StateConfig{
		API:       api,
		Publisher: pub,
		Registry:  registry,
		Builder:   builder,
		Interval:  cfg.StateUpdateInterval(),
		Metrics:   mtr,
		Logger:    logger,
	})

	// Republish retained descriptors whenever the broker connection
	// comes (back) up, in case the broker lost its retained state.
	pub.OnConnect(func(upCtx context.Context) {
		if registry.Len() > 0 {
			discovery.RunCycle(upCtx)
		}
	})

	if err := pub.Start(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// --- Job loops ---
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		discovery.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		state.Start(ctx)
	}()

	if mtr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mtr.Serve(ctx, cfg.Metrics.Address, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	wg.Wait()

	// Publish MQTT offline status before disconnecting.
	offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer offlineCancel()
	if err := pub.Stop(offlineCtx); err != nil {
		logger.Error("mqtt shutdown failed", "error", err)
	}

	logger.Info("pulse-bridge stopped")
	return nil
}

// runDiscover connects, runs a single discovery cycle, and exits. An
// operator smoke test: it verifies the API key, the broker connection,
// and the discovery payloads in one shot.
func runDiscover(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load instance id: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub := mqtt.New(cfg.MQTT, instanceID, logger)
	if err := pub.Start(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	connCtx, connCancel := context.WithTimeout(ctx, 15*time.Second)
	defer connCancel()
	if err := pub.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("mqtt broker unreachable: %w", err)
	}

	discovery := bridge.NewDiscovery(bridge.DiscoveryConfig{
		API:       pulse.NewClient(cfg.Pulse.BaseURL, cfg.Pulse.APIKey, cfg.APITimeout(), logger),
		Publisher: pub,
		Registry:  bridge.NewRegistry(),
		Builder:   bridge.NewBuilder(cfg.MQTT.DiscoveryPrefix, cfg.MQTT.StatePrefix),
		Interval:  time.Hour, // unused, single cycle
		Logger:    logger,
	})
	discovery.RunCycle(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	return pub.Stop(stopCtx)
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates, parses, and validates the YAML configuration
// file. Returns the parsed config, the path that was loaded, and any
// error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
