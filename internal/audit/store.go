package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS masking_audit (
	id                 BIGSERIAL PRIMARY KEY,
	transaction_id     TEXT NOT NULL,
	source             TEXT NOT NULL DEFAULT 'api',
	payload_type       TEXT NOT NULL,
	resolved_label     TEXT NOT NULL,
	processor          TEXT NOT NULL,
	payload_sha256     CHAR(64) NOT NULL,
	payload_length     INTEGER NOT NULL,
	attributes_applied INTEGER NOT NULL DEFAULT 0,
	duration_us        BIGINT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_masking_audit_label ON masking_audit (resolved_label);
CREATE INDEX IF NOT EXISTS idx_masking_audit_transaction ON masking_audit (transaction_id)`

// Store persists masking audit records in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and ensures the audit schema exists
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := NewStoreWithDB(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// NewStoreWithDB wraps an existing connection without touching the schema
func NewStoreWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return s.EnsureSchema(ctx)
}

// EnsureSchema creates the audit table and its indexes if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Insert adds a new audit record
func (s *Store) Insert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO masking_audit (transaction_id, source, payload_type, resolved_label, processor,
			payload_sha256, payload_length, attributes_applied, duration_us)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		record.TransactionID,
		sourceOrDefault(record.Source),
		record.PayloadType,
		record.ResolvedLabel,
		record.Processor,
		record.PayloadSHA256,
		record.PayloadLength,
		record.AttributesApplied,
		record.DurationMicros,
	).Scan(&record.ID, &record.CreatedAt)

	if err != nil {
		s.logger.Error("Failed to insert audit record",
			zap.Error(err),
			zap.String("transaction_id", record.TransactionID),
			zap.String("label", record.ResolvedLabel))
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	s.logger.Debug("Audit record inserted",
		zap.Int64("id", record.ID),
		zap.String("label", record.ResolvedLabel))

	return nil
}

const (
	// auditColumns is the number of bind parameters per inserted record
	auditColumns = 9
	// maxRowsPerStatement keeps each INSERT under PostgreSQL's 65535
	// bind parameter limit
	maxRowsPerStatement = 65535 / auditColumns
)

// BatchInsert adds multiple audit records in a single transaction, split
// into as many statements as the bind parameter limit requires
func (s *Store) BatchInsert(ctx context.Context, records []*Record) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		result.Failed = int64(len(records))
		return result, fmt.Errorf("failed to begin batch insert: %w", err)
	}

	var inserted int64
	for offset := 0; offset < len(records); offset += maxRowsPerStatement {
		end := offset + maxRowsPerStatement
		if end > len(records) {
			end = len(records)
		}

		n, err := insertChunk(ctx, tx, records[offset:end])
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("Batch insert rollback failed", zap.Error(rbErr))
			}
			result.Failed = int64(len(records))
			s.logger.Error("Batch insert failed",
				zap.Int("records", len(records)),
				zap.Int("chunk_offset", offset),
				zap.Error(err))
			return result, fmt.Errorf("batch insert failed: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		result.Failed = int64(len(records))
		return result, fmt.Errorf("failed to commit batch insert: %w", err)
	}

	result.Inserted = inserted
	result.Failed = int64(len(records)) - inserted
	result.Duration = time.Since(start)

	s.logger.Debug("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// insertChunk writes up to maxRowsPerStatement records in one statement
func insertChunk(ctx context.Context, tx *sqlx.Tx, records []*Record) (int64, error) {
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*auditColumns)

	for i, r := range records {
		placeholders := make([]string, auditColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*auditColumns+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		valueArgs = append(valueArgs,
			r.TransactionID,
			sourceOrDefault(r.Source),
			r.PayloadType,
			r.ResolvedLabel,
			r.Processor,
			r.PayloadSHA256,
			r.PayloadLength,
			r.AttributesApplied,
			r.DurationMicros,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO masking_audit (transaction_id, source, payload_type, resolved_label, processor,
			payload_sha256, payload_length, attributes_applied, duration_us)
		VALUES %s`, strings.Join(valueStrings, ","))

	res, err := tx.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return 0, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return int64(len(records)), nil
	}
	return inserted, nil
}

// GetStats returns totals and per-label counts
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(duration_us), 0) FROM masking_audit`,
	).Scan(&stats.TotalRecords, &stats.AvgDurationUs)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}

	err = s.db.SelectContext(ctx, &stats.ByLabel, `
		SELECT resolved_label, COUNT(*) AS count
		FROM masking_audit
		GROUP BY resolved_label
		ORDER BY count DESC, resolved_label`)
	if err != nil {
		return nil, fmt.Errorf("failed to get label counts: %w", err)
	}

	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PayloadDigest returns the hex sha256 of a payload for audit records
func PayloadDigest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func sourceOrDefault(source string) string {
	if source == "" {
		return "api"
	}
	return source
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
