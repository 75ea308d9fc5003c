package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CSVHeader is the column layout of the sample log.
var CSVHeader = []string{"timestamp", "price", "pct_change", "block", "delta_quote", "delta_base"}

// CSVLog appends sample records to a CSV file, writing the header once.
type CSVLog struct {
	path string
}

// NewCSVLog builds a CSV sink at path.
func NewCSVLog(path string) *CSVLog {
	return &CSVLog{path: path}
}

// Name implements Sink.
func (l *CSVLog) Name() string { return "csv" }

// Path returns the file location.
func (l *CSVLog) Path() string { return l.path }

// EnsureHeader creates the file with its header row if it is absent or empty.
func (l *CSVLog) EnsureHeader() error {
	f, err := l.open()
	if err != nil {
		return err
	}
	return f.Close()
}

// Append writes one record. The file is reopened per call so a removed log is recreated with its header.
func (l *CSVLog) Append(ctx context.Context, rec SampleRecord) error {
	f, err := l.open()
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(encodeCSV(rec)); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (l *CSVLog) open() (*os.File, error) {
	if l.path == "" {
		return nil, errors.New("csv path not configured")
	}
	if dir := filepath.Dir(l.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create csv dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv log: %w", err)
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		_ = w.Write(CSVHeader)
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return f, nil
}

func encodeCSV(rec SampleRecord) []string {
	pct := ""
	if rec.PctChange.Valid {
		pct = rec.PctChange.Decimal.StringFixed(6)
	}
	return []string{
		rec.Timestamp.UTC().Format(TimestampLayout),
		rec.Price.String(),
		pct,
		strconv.FormatUint(rec.Block, 10),
		nullString(rec.DeltaQuote),
		nullString(rec.DeltaBase),
	}
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// ReadCSVLog parses a sample log written by CSVLog.
func ReadCSVLog(path string) ([]SampleRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(CSVHeader)

	records := make([]SampleRecord, 0)
	line := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv log: %w", err)
		}
		line++
		if line == 1 && row[0] == CSVHeader[0] {
			continue
		}

		rec, err := decodeCSV(row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeCSV(row []string) (SampleRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return SampleRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	price, err := decimal.NewFromString(row[1])
	if err != nil {
		return SampleRecord{}, fmt.Errorf("parse price: %w", err)
	}
	pct, err := parseNull(row[2])
	if err != nil {
		return SampleRecord{}, fmt.Errorf("parse pct_change: %w", err)
	}
	block, err := strconv.ParseUint(row[3], 10, 64)
	if err != nil {
		return SampleRecord{}, fmt.Errorf("parse block: %w", err)
	}
	dq, err := parseNull(row[4])
	if err != nil {
		return SampleRecord{}, fmt.Errorf("parse delta_quote: %w", err)
	}
	db, err := parseNull(row[5])
	if err != nil {
		return SampleRecord{}, fmt.Errorf("parse delta_base: %w", err)
	}

	return SampleRecord{
		Timestamp:  ts,
		Block:      block,
		Price:      price,
		PctChange:  pct,
		DeltaQuote: dq,
		DeltaBase:  db,
	}, nil
}

func parseNull(v string) (decimal.NullDecimal, error) {
	if v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var _ Sink = (*CSVLog)(nil)
