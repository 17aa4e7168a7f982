// Package main is the entry point for the buildbridge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/nugget/buildbridge/internal/buildengine"
	"github.com/nugget/buildbridge/internal/buildinfo"
	"github.com/nugget/buildbridge/internal/config"
	"github.com/nugget/buildbridge/internal/dashboard"
	"github.com/nugget/buildbridge/internal/dispatch"
	"github.com/nugget/buildbridge/internal/forge"
	"github.com/nugget/buildbridge/internal/httpkit"
	"github.com/nugget/buildbridge/internal/telemetry"
	"github.com/nugget/buildbridge/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showQR := flag.Bool("qr", false, "print a QR code for the websocket connect URL")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath, *showQR)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("buildbridge - Server Request Dispatcher")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the dispatcher server")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string, showQR bool) {
	logger.Info("starting buildbridge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "listen_port", cfg.Listen.Port)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	// --- dispatcher core ---

	requests := dispatch.NewRequestQueue(cfg.Queues.RequestQueueCapacity)
	serverState := dispatch.NewServerStateRef()
	engineState := dispatch.NewEngineStateRef()

	var telemetryPub *telemetry.Publisher
	work := dispatch.NewWorkQueue(cfg.Queues.WorkRawCapacity, func(depth int) {
		for c := range serverState.Load().BuildListeners() {
			c.Send(dispatch.WorkQueueChanged{Depth: depth})
		}
		if telemetryPub != nil {
			telemetryPub.NoteQueueDepth(depth)
		}
	})

	reader := dispatch.NewReaderLoop(requests, work, serverState, engineState, cfg.Queues.DeferredStartupBuffer, logger.With("component", "reader"))

	runner := buildengine.NewRunner(cfg.Build.KeysFile, cfg.Build.WorkingDir, cfg.Build.AllowedPrefixes, cfg.Build.DeniedPatterns, cfg.Build.DefaultTimeoutSec)
	engine := dispatch.NewEngineLoop(runner, work, engineState, serverState, logger.With("component", "engine"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reader.Run(ctx)
	go func() {
		if err := engine.Run(ctx, ctx.Done()); err != nil {
			logger.Error("engine loop stopped", "error", err)
		}
	}()

	// --- forge CI status reporting ---

	if cfg.Forge.Configured() {
		httpClient := httpkit.NewClient(httpkit.WithRetry(2, time.Second))
		reporter, err := forge.NewReporter(httpClient, cfg.Forge.Token, cfg.Forge.Owner, cfg.Forge.Repo, cfg.Forge.Context, logger.With("component", "forge"))
		if err != nil {
			logger.Error("forge reporter configuration failed", "error", err)
			os.Exit(1)
		}
		watcher := forge.NewWatcher(reporter, logger.With("component", "forge"))
		reader.SetOnExecution(watcher.NoteExecution)
		go func() {
			if err := watcher.Run(ctx, requests); err != nil {
				logger.Error("forge watcher stopped", "error", err)
			}
		}()
		logger.Info("forge commit-status reporting enabled", "owner", cfg.Forge.Owner, "repo", cfg.Forge.Repo)
	}

	// --- telemetry ---

	if cfg.Telemetry.Configured() {
		instanceID, err := telemetry.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			logger.Error("failed to load telemetry instance id", "error", err)
			os.Exit(1)
		}
		telemetryPub = telemetry.New(cfg.Telemetry, instanceID, logger.With("component", "telemetry"))
		go func() {
			if err := telemetryPub.Run(ctx, requests); err != nil {
				logger.Error("telemetry publisher stopped", "error", err)
			}
		}()
		logger.Info("telemetry enabled", "broker", cfg.Telemetry.BrokerURL, "device", cfg.Telemetry.DeviceName)
	}

	// --- dashboard ---

	if cfg.Dashboard.Enabled {
		dash := dashboard.New(logger.With("component", "dashboard"))
		go func() {
			if err := dash.Run(ctx, requests, dashboard.Config{Address: cfg.Dashboard.Address, Port: cfg.Dashboard.Port}); err != nil {
				logger.Error("dashboard server stopped", "error", err)
			}
		}()
		logger.Info("dashboard enabled", "address", cfg.Dashboard.Address, "port", cfg.Dashboard.Port)
	}

	// --- transport ---

	server := transport.NewServer(requests, cfg.Queues.ClientEventBuffer, logger.With("component", "transport"))

	if showQR {
		printConnectQR(cfg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		if telemetryPub != nil {
			_ = telemetryPub.Stop(context.Background())
		}
	}()

	transportCfg := transport.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		TLSEnabled:     cfg.TLS.Enabled,
		TLSDomains:     cfg.TLS.Domains,
		TLSCacheDir:    cfg.TLS.CacheDir,
		TLSContactMail: cfg.TLS.ContactMail,
	}
	if err := server.Run(ctx, transportCfg); err != nil {
		if ctx.Err() == nil {
			logger.Error("transport server failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("buildbridge stopped")
}

func printConnectQR(cfg *config.Config) {
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	host := cfg.Listen.Address
	if host == "" {
		host = "localhost"
	}
	url := fmt.Sprintf("%s://%s:%d/ws", scheme, host, cfg.Listen.Port)

	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate QR code: %v\n", err)
		return
	}
	fmt.Println(url)
	fmt.Println(qr.ToString(false))
}
