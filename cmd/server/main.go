package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracehub/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/server"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file")
	port := flag.String("port", "", "Hub port")
	host := flag.String("host", "", "Bind address")
	upstream := flag.String("upstream", "", "Upstream URL for the capture proxy")
	proxyPort := flag.String("proxy-port", "", "Capture proxy port")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dev := flag.Bool("dev", false, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracehub: %v\n", err)
		os.Exit(1)
	}

	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *upstream != "" {
		cfg.Capture.Upstream = *upstream
	}
	if *proxyPort != "" {
		cfg.Capture.Port = *proxyPort
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
