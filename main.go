package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile = flag.String("config", "relay.yaml", "Path to configuration file")
	validate   = flag.Bool("validate", false, "Validate configuration and exit")
	version    = flag.Bool("version", false, "Print version and exit")
)

const Version = "v0.1.0"

// newLogger builds the process logger: json uses the production encoder,
// text the console encoder.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "text":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	default:
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("relay %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *validate {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical error: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		// Sync fails on terminals; the error is not actionable.
		_ = logger.Sync()
	}()
	errors.SetLogger(logger)

	srv, err := server.NewServer(*configFile, logger)
	if err != nil {
		logger.Fatal("Server initialization failed",
			zap.Error(err),
			zap.String("config_path", *configFile),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Shutdown signal received",
			zap.String("signal", sig.String()),
			zap.String("action", "initiating graceful shutdown"),
		)
		cancel()
	}()

	logger.Info("Starting relay", zap.String("version", Version), zap.Int("port", cfg.Server.Port))
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Server startup or runtime error",
			zap.Error(err),
			zap.String("action", "server_start_failed"),
		)
	}
}
