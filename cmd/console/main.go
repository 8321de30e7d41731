package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/celeratec/cipp-console/internal/config"
	"github.com/celeratec/cipp-console/internal/console"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./console.config.json", "path to console config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Error("failed to load env file", zap.Error(err))
		os.Exit(1)
	}

	cfg, err := config.LoadConsoleConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("config loaded successfully",
		zap.String("config_path", *configPath),
		zap.String("directory", cfg.Directory.BaseURL),
	)

	srv, err := console.NewServer(cfg, logger)
	if err != nil {
		logger.Error("failed to build console", zap.Error(err))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("received signal, initiating graceful shutdown",
		zap.String("signal", sig.String()),
	)

	if err := srv.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("console exited cleanly")
}
