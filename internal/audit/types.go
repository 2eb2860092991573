package audit

import (
	"time"
)

// Record is one masking call. It never carries payload content, only a
// digest and the length.
type Record struct {
	ID                int64     `db:"id" json:"id"`
	TransactionID     string    `db:"transaction_id" json:"transaction_id"`
	Source            string    `db:"source" json:"source"`
	PayloadType       string    `db:"payload_type" json:"payload_type"`
	ResolvedLabel     string    `db:"resolved_label" json:"resolved_label"`
	Processor         string    `db:"processor" json:"processor"`
	PayloadSHA256     string    `db:"payload_sha256" json:"payload_sha256"`
	PayloadLength     int       `db:"payload_length" json:"payload_length"`
	AttributesApplied int       `db:"attributes_applied" json:"attributes_applied"`
	DurationMicros    int64     `db:"duration_us" json:"duration_us"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// LabelCount is the number of records per resolved label
type LabelCount struct {
	Label string `db:"resolved_label" json:"label"`
	Count int64  `db:"count" json:"count"`
}

// Stats represents audit statistics
type Stats struct {
	TotalRecords  int64        `json:"total_records"`
	AvgDurationUs float64      `json:"avg_duration_us"`
	ByLabel       []LabelCount `json:"by_label"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}
