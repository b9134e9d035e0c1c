package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"satsim/internal/model"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ErrNoResults is returned by Persist when there is nothing to write.
var ErrNoResults = errors.New("no results to save")

// Persist writes the ordered result log to a timestamped file in dir and
// returns its path. No file is created for an empty log.
func Persist(dir, format string, results []model.TransferResult, now time.Time) (string, error) {
	if len(results) == 0 {
		return "", ErrNoResults
	}
	format = strings.ToLower(format)
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatParquet {
		return "", fmt.Errorf("unknown result format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("performance_results_%s.%s", now.Format("20060102_150405"), format))
	var err error
	switch format {
	case FormatParquet:
		err = writeParquet(path, results)
	default:
		err = writeCSVFile(path, results)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeCSVFile(path string, results []model.TransferResult) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, results); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// parquetRow is the on-disk schema of a result in parquet files.
type parquetRow struct {
	TestID         string  `parquet:"name=test_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp      int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	FileSizeKB     float64 `parquet:"name=file_size_kb, type=DOUBLE"`
	DurationSec    float64 `parquet:"name=duration_sec, type=DOUBLE"`
	ThroughputKbps float64 `parquet:"name=throughput_kbps, type=DOUBLE"`
	ProxyEnabled   bool    `parquet:"name=proxy_enabled, type=BOOLEAN"`
	FPGAEnabled    bool    `parquet:"name=fpga_enabled, type=BOOLEAN"`
	Success        bool    `parquet:"name=success, type=BOOLEAN"`
	Error          string  `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, results []model.TransferResult) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	for _, r := range results {
		row := parquetRow{
			TestID:         r.TestID,
			Timestamp:      r.Timestamp.UnixMilli(),
			FileSizeKB:     r.FileSizeKB,
			DurationSec:    r.DurationSec,
			ThroughputKbps: r.ThroughputKbps,
			ProxyEnabled:   r.ProxyEnabled,
			FPGAEnabled:    r.FPGAEnabled,
			Success:        r.Success,
			Error:          r.Error,
		}
		if err := pw.Write(row); err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to write parquet row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return fw.Close()
}
