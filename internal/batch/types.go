package batch

import (
	"path/filepath"
	"strings"
	"time"
)

// InputRecord is one payload to mask
type InputRecord struct {
	TransactionID string `parquet:"transaction_id" json:"transaction_id"`
	PayloadTxt    string `parquet:"payload_txt" json:"payload_txt"`
}

// OutputRecord is the masked counterpart of an InputRecord. Error is set
// instead of MaskedPayload when the record could not be masked.
type OutputRecord struct {
	TransactionID string `parquet:"transaction_id" json:"transaction_id"`
	MaskedPayload string `parquet:"masked_payload" json:"masked_payload"`
	PayloadType   string `parquet:"payload_type" json:"payload_type"`
	Error         string `parquet:"error" json:"error,omitempty"`
}

// ProcessingResult represents the result of processing a file
type ProcessingResult struct {
	TotalRecords    int64            `json:"total_records"`
	ProcessedOK     int64            `json:"processed_ok"`
	ProcessedFailed int64            `json:"processed_failed"`
	Duration        time.Duration    `json:"duration"`
	MaskingTime     time.Duration    `json:"masking_time"`
	AuditTime       time.Duration    `json:"audit_time"`
	ByLabel         map[string]int64 `json:"by_label"`
	Errors          []string         `json:"errors,omitempty"`
}

// maxReportedErrors bounds ProcessingResult.Errors
const maxReportedErrors = 100

// Config contains batch masking configuration
type Config struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int `yaml:"worker_count" mapstructure:"worker_count"`
	ProgressReport int `yaml:"progress_report" mapstructure:"progress_report"`
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsMasked  int64     `json:"records_masked"`
	RecordsFailed  int64     `json:"records_failed"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
	FormatUnknown FileFormat = ""
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatUnknown
	}
}
