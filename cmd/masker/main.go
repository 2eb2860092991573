package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raaihank/payload-masker/internal/audit"
	"github.com/raaihank/payload-masker/internal/cache"
	"github.com/raaihank/payload-masker/internal/config"
	"github.com/raaihank/payload-masker/internal/logger"
	"github.com/raaihank/payload-masker/internal/metrics"
	"github.com/raaihank/payload-masker/internal/server"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080/health", "URL used by -health-check")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("payload-masker %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log, *configPath); err != nil {
		log.Error("Payload masker stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

// run wires the server and blocks until shutdown
func run(cfg *config.Config, log *logger.Logger, configPath string) error {
	log.Info("Starting payload masker",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	opts := []server.Option{
		server.WithVersion(version),
		server.WithMetrics(metrics.NewRegistry()),
	}

	if cfg.Cache.Enabled {
		resultCache, err := cache.New(&cfg.Cache.Config, log.WithComponent("cache").Logger)
		if err != nil {
			return fmt.Errorf("failed to connect result cache: %w", err)
		}
		defer resultCache.Close()
		opts = append(opts, server.WithCache(resultCache))
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(&cfg.Audit.Config, log.WithComponent("audit").Logger)
		if err != nil {
			return fmt.Errorf("failed to connect audit store: %w", err)
		}
		defer store.Close()
		opts = append(opts, server.WithAudit(store))
	}

	srv, err := server.New(cfg, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Rule changes take effect without a restart
	if err := config.Watch(configPath, log.WithComponent("config").Logger, func(newConfig *config.Config) {
		if err := srv.Reload(newConfig.Masking); err != nil {
			log.Error("Failed to apply masking rules", zap.Error(err))
		}
	}); err != nil {
		log.Warn("Configuration hot reload disabled", zap.Error(err))
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}

		log.Info("Server shutdown complete")
	}
	return nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
