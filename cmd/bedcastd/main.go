package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/medwatch/bedcast/pkg/api"
	"github.com/medwatch/bedcast/pkg/config"
	"github.com/medwatch/bedcast/pkg/logx"
	"github.com/medwatch/bedcast/pkg/metrics"
	"github.com/medwatch/bedcast/pkg/pidfile"
	"github.com/medwatch/bedcast/pkg/prepare"
	"github.com/medwatch/bedcast/pkg/store"
)

const (
	AppName    = "bedcastd"
	AppVersion = "1.0.0"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration file (optional)")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error)")
	pidPath    = flag.String("pidfile", "", "Write a PID file and refuse to start a second instance (optional)")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	effectiveLogLevel := cfg.Logging.Level
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLogLevel, AppName)
	logger.Info("Starting bedcastd",
		"version", AppVersion,
		"store_path", cfg.Store.Path,
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	if *pidPath != "" {
		pf := pidfile.New(*pidPath)
		if err := pf.Create(); err != nil {
			logger.Error("Failed to create PID file", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := pf.Remove(); err != nil {
				logger.Warn("Failed to remove PID file", "error", err)
			}
		}()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		logger.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	prep := prepare.New(cfg.Forecast.MinObservations)
	st, err := store.Open(cfg.Store.Path, prep, logger.WithComponent("store"))
	if err != nil {
		logger.Error("Failed to open facility store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	server := api.NewServer(cfg, st, metrics.New(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("API server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
