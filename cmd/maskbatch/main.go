package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/payload-masker/internal/audit"
	"github.com/raaihank/payload-masker/internal/batch"
	"github.com/raaihank/payload-masker/internal/config"
	"github.com/raaihank/payload-masker/internal/logger"
	"github.com/raaihank/payload-masker/internal/masking"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input file (CSV, Parquet or JSONL)")
		outputFile = flag.String("output", "", "Output file, same format as the input")
		batchSize  = flag.Int("batch-size", 0, "Records per batch (default from config)")
		workers    = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		showStats  = flag.Bool("stats", false, "Show audit statistics and exit")
	)
	flag.Parse()

	if (*inputFile == "" || *outputFile == "") && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input payloads.csv -output masked.csv -batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input payloads.parquet -output masked.parquet -workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting batch masking", zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, stopping after the current batch")
		cancel()
	}()

	opts := runOptions{
		showStats:  *showStats,
		batchSize:  *batchSize,
		workers:    *workers,
		inputFile:  *inputFile,
		outputFile: *outputFile,
	}
	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("Batch masking failed", zap.Error(err))
		cancel()
		log.Sync()
		os.Exit(1)
	}

	log.Info("Batch masking completed successfully")
}

type runOptions struct {
	showStats  bool
	batchSize  int
	workers    int
	inputFile  string
	outputFile string
}

// run opens the audit store when needed and performs the requested operation
func run(ctx context.Context, cfg *config.Config, opts runOptions, log *logger.Logger) error {
	var store *audit.Store
	if cfg.Audit.Enabled || opts.showStats {
		var err error
		store, err = audit.NewStore(&cfg.Audit.Config, log.WithComponent("audit").Logger)
		if err != nil {
			return fmt.Errorf("failed to connect audit store: %w", err)
		}
		defer store.Close()
	}

	if opts.showStats {
		return showAuditStats(ctx, store)
	}

	batchConfig := cfg.Batch
	if opts.batchSize > 0 {
		batchConfig.BatchSize = opts.batchSize
	}
	if opts.workers > 0 {
		batchConfig.WorkerCount = opts.workers
	}

	return processFile(ctx, cfg, &batchConfig, store, opts.inputFile, opts.outputFile, log)
}

// processFile masks every record of inputFile into outputFile
func processFile(ctx context.Context, cfg *config.Config, batchConfig *batch.Config, store *audit.Store, inputFile, outputFile string, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	engine := masking.NewEngine(cfg.Masking, log.WithComponent("masking").Logger)

	var recorder batch.AuditRecorder
	if store != nil {
		recorder = store
	}

	pipeline := batch.NewPipeline(engine, recorder, batchConfig, log.WithComponent("batch").Logger)

	result, err := pipeline.ProcessFile(ctx, inputFile, outputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	rate := 0.0
	if result.Duration > 0 {
		rate = float64(result.TotalRecords) / result.Duration.Seconds()
	}

	log.Info("File processing completed",
		zap.String("input", inputFile),
		zap.String("output", outputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Any("by_label", result.ByLabel),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("masking_time", result.MaskingTime),
		zap.Duration("audit_time", result.AuditTime),
		zap.Float64("records_per_second", rate))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	return nil
}

// showAuditStats prints the audit trail summary
func showAuditStats(ctx context.Context, store *audit.Store) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get audit stats: %w", err)
	}

	fmt.Printf("\n=== Masking Audit Statistics ===\n")
	fmt.Printf("Total Records:      %d\n", stats.TotalRecords)
	fmt.Printf("Avg Duration:       %.1f us\n", stats.AvgDurationUs)
	for _, lc := range stats.ByLabel {
		fmt.Printf("  %-18s %d\n", lc.Label+":", lc.Count)
	}

	return nil
}
