package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/payload-masker/internal/audit"
	"github.com/raaihank/payload-masker/internal/masking"
)

// Masker masks a single payload
type Masker interface {
	Mask(payload string) (masking.Result, error)
}

// AuditRecorder persists audit records for a batch. Optional.
type AuditRecorder interface {
	BatchInsert(ctx context.Context, records []*audit.Record) (*audit.BatchInsertResult, error)
}

// Pipeline masks every record of an input file into an output file
type Pipeline struct {
	masker   Masker
	recorder AuditRecorder
	config   *Config
	logger   *zap.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new batch pipeline. recorder may be nil.
func NewPipeline(masker Masker, recorder AuditRecorder, config *Config, logger *zap.Logger) *Pipeline {
	cfg := *config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Pipeline{
		masker:   masker,
		recorder: recorder,
		config:   &cfg,
		logger:   logger,
		stats:    &ProcessingStats{StartTime: time.Now()},
	}
}

// outcome is the masked form of one record plus what the audit trail needs
type outcome struct {
	output   OutputRecord
	result   masking.Result
	input    string
	duration time.Duration
	err      error
}

// ProcessFile masks inputPath into outputPath. Both use the same format,
// detected from the input file extension.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	format := DetectFileFormat(inputPath)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported file format: %s", inputPath)
	}

	p.logger.Info("Starting batch masking",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	reader, err := openReader(inputPath, format)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	writer, err := createWriter(outputPath, format)
	if err != nil {
		return nil, err
	}

	p.resetStats()
	start := time.Now()
	result := &ProcessingResult{ByLabel: make(map[string]int64)}

	runErr := p.processBatches(ctx, reader, writer, result)
	if err := writer.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to finalize output: %w", err)
	}
	result.Duration = time.Since(start)

	p.logger.Info("Batch masking completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("masking_time", result.MaskingTime),
		zap.Duration("audit_time", result.AuditTime))

	return result, runErr
}

func (p *Pipeline) processBatches(ctx context.Context, reader recordReader, writer recordWriter, result *ProcessingResult) error {
	var reported int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := reader.Read(p.config.BatchSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		p.mu.Lock()
		p.stats.CurrentBatch++
		p.stats.RecordsRead += int64(len(batch))
		p.mu.Unlock()

		outcomes := p.maskBatch(batch)

		outputs := make([]OutputRecord, len(outcomes))
		for i, o := range outcomes {
			outputs[i] = o.output
			result.TotalRecords++
			result.MaskingTime += o.duration
			if o.err != nil {
				result.ProcessedFailed++
				if len(result.Errors) < maxReportedErrors {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", o.output.TransactionID, o.err))
				}
				continue
			}
			result.ProcessedOK++
			result.ByLabel[o.result.ResolvedLabel]++
		}

		if err := writer.Write(outputs); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}

		p.recordAudit(ctx, outcomes, result)

		p.mu.Lock()
		p.stats.RecordsMasked = result.ProcessedOK
		p.stats.RecordsFailed = result.ProcessedFailed
		p.mu.Unlock()

		if p.config.ProgressReport > 0 && result.TotalRecords/int64(p.config.ProgressReport) > reported {
			reported = result.TotalRecords / int64(p.config.ProgressReport)
			p.reportProgress(result)
		}
	}
}

// maskBatch masks records on WorkerCount goroutines. outcomes[i]
// always belongs to batch[i].
func (p *Pipeline) maskBatch(batch []InputRecord) []outcome {
	outcomes := make([]outcome, len(batch))
	jobs := make(chan int)

	var wg sync.WaitGroup
	workers := min(p.config.WorkerCount, len(batch))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.maskRecord(batch[i])
			}
		}()
	}

	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (p *Pipeline) maskRecord(rec InputRecord) outcome {
	start := time.Now()
	res, err := p.masker.Mask(rec.PayloadTxt)
	o := outcome{
		input:    rec.PayloadTxt,
		duration: time.Since(start),
		output:   OutputRecord{TransactionID: rec.TransactionID},
	}
	if err != nil {
		o.err = err
		o.output.Error = err.Error()
		p.logger.Debug("Record failed", zap.String("transaction_id", rec.TransactionID), zap.Error(err))
		return o
	}

	o.result = res
	o.output.MaskedPayload = res.MaskedPayload
	o.output.PayloadType = res.ResolvedLabel
	return o
}

// recordAudit writes audit rows for the successful records. Failures are
// logged and never abort the run.
func (p *Pipeline) recordAudit(ctx context.Context, outcomes []outcome, result *ProcessingResult) {
	if p.recorder == nil {
		return
	}

	records := make([]*audit.Record, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		records = append(records, &audit.Record{
			TransactionID:     o.output.TransactionID,
			Source:            "batch",
			PayloadType:       o.result.PayloadType.String(),
			ResolvedLabel:     o.result.ResolvedLabel,
			Processor:         o.result.Processor.String(),
			PayloadSHA256:     audit.PayloadDigest(o.input),
			PayloadLength:     len(o.input),
			AttributesApplied: o.result.AttributesApplied,
			DurationMicros:    o.duration.Microseconds(),
		})
	}
	if len(records) == 0 {
		return
	}

	start := time.Now()
	if _, err := p.recorder.BatchInsert(ctx, records); err != nil {
		p.logger.Warn("Failed to write audit records", zap.Int("records", len(records)), zap.Error(err))
	}
	result.AuditTime += time.Since(start)
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()
	p.stats.ProcessingRate = rate
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
