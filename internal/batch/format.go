package batch

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

var csvOutputHeader = []string{"transaction_id", "masked_payload", "payload_type", "error"}

// recordReader yields input records in file order. Read returns io.EOF
// once no records remain.
type recordReader interface {
	Read(max int) ([]InputRecord, error)
	Close() error
}

// recordWriter appends output records in the order given
type recordWriter interface {
	Write(records []OutputRecord) error
	Close() error
}

func openReader(path string, format FileFormat) (recordReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	switch format {
	case FormatCSV:
		r, err := newCSVReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return r, nil
	case FormatParquet:
		return &parquetReader{file: file, reader: parquet.NewGenericReader[InputRecord](file)}, nil
	case FormatJSONL:
		return &jsonlReader{file: file, decoder: json.NewDecoder(file)}, nil
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported file format for %s", path)
	}
}

func createWriter(path string, format FileFormat) (recordWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	switch format {
	case FormatCSV:
		w := csv.NewWriter(file)
		if err := w.Write(csvOutputHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		return &csvWriter{file: file, writer: w}, nil
	case FormatParquet:
		return &parquetWriter{file: file, writer: parquet.NewGenericWriter[OutputRecord](file)}, nil
	case FormatJSONL:
		return &jsonlWriter{file: file, encoder: json.NewEncoder(file)}, nil
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported file format for %s", path)
	}
}

// CSV

type csvReader struct {
	file       *os.File
	reader     *csv.Reader
	idColumn   int
	textColumn int
}

func newCSVReader(file *os.File) (*csvReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	r := &csvReader{file: file, reader: reader, idColumn: -1, textColumn: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "transaction_id":
			r.idColumn = i
		case "payload_txt":
			r.textColumn = i
		}
	}
	if r.idColumn < 0 || r.textColumn < 0 {
		return nil, fmt.Errorf("CSV header must contain transaction_id and payload_txt, got %v", header)
	}
	return r, nil
}

func (r *csvReader) Read(max int) ([]InputRecord, error) {
	var batch []InputRecord
	for len(batch) < max {
		row, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return batch, fmt.Errorf("failed to read CSV record: %w", err)
		}

		var rec InputRecord
		if r.idColumn < len(row) {
			rec.TransactionID = row[r.idColumn]
		}
		if r.textColumn < len(row) {
			rec.PayloadTxt = row[r.textColumn]
		}
		batch = append(batch, rec)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (r *csvReader) Close() error { return r.file.Close() }

type csvWriter struct {
	file   *os.File
	writer *csv.Writer
}

func (w *csvWriter) Write(records []OutputRecord) error {
	for _, rec := range records {
		if err := w.writer.Write([]string{rec.TransactionID, rec.MaskedPayload, rec.PayloadType, rec.Error}); err != nil {
			return err
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

func (w *csvWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Parquet

type parquetReader struct {
	file   *os.File
	reader *parquet.GenericReader[InputRecord]
}

func (r *parquetReader) Read(max int) ([]InputRecord, error) {
	batch := make([]InputRecord, max)
	n, err := r.reader.Read(batch)
	if n > 0 {
		// A short read may carry io.EOF; report it on the next call.
		return batch[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}

type parquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[OutputRecord]
}

func (w *parquetWriter) Write(records []OutputRecord) error {
	_, err := w.writer.Write(records)
	return err
}

func (w *parquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// JSON lines

type jsonlReader struct {
	file    *os.File
	decoder *json.Decoder
}

func (r *jsonlReader) Read(max int) ([]InputRecord, error) {
	var batch []InputRecord
	for len(batch) < max {
		var rec InputRecord
		err := r.decoder.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return batch, fmt.Errorf("failed to read JSON record: %w", err)
		}
		batch = append(batch, rec)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (r *jsonlReader) Close() error { return r.file.Close() }

type jsonlWriter struct {
	file    *os.File
	encoder *json.Encoder
}

func (w *jsonlWriter) Write(records []OutputRecord) error {
	for i := range records {
		if err := w.encoder.Encode(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *jsonlWriter) Close() error { return w.file.Close() }
