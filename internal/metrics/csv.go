package metrics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"satsim/internal/model"
)

var csvHeader = []string{
	"test_id",
	"timestamp",
	"file_size_kb",
	"duration_sec",
	"throughput_kbps",
	"proxy_enabled",
	"fpga_enabled",
	"success",
	"error",
}

// WriteCSV writes results to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.TransferResult) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range items {
		record := []string{
			r.TestID,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(r.FileSizeKB, 'f', 3, 64),
			strconv.FormatFloat(r.DurationSec, 'f', 6, 64),
			strconv.FormatFloat(r.ThroughputKbps, 'f', 3, 64),
			strconv.FormatBool(r.ProxyEnabled),
			strconv.FormatBool(r.FPGAEnabled),
			strconv.FormatBool(r.Success),
			r.Error,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
