package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"satsim/internal/model"
)

// ReadCSV loads benchmark results from a CSV file written by WriteCSV.
func ReadCSV(path string) ([]model.TransferResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.TransferResult, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "test_id" {
		start = 1
	}

	items := make([]model.TransferResult, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(csvHeader) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[1])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		size, _ := strconv.ParseFloat(rec[2], 64)
		duration, _ := strconv.ParseFloat(rec[3], 64)
		throughput, _ := strconv.ParseFloat(rec[4], 64)
		proxy, _ := strconv.ParseBool(rec[5])
		fpga, _ := strconv.ParseBool(rec[6])
		success, err := strconv.ParseBool(rec[7])
		if err != nil {
			return nil, fmt.Errorf("invalid success flag at line %d: %w", i+1, err)
		}
		items = append(items, model.TransferResult{
			TestID:         rec[0],
			Timestamp:      ts,
			FileSizeKB:     size,
			DurationSec:    duration,
			ThroughputKbps: throughput,
			ProxyEnabled:   proxy,
			FPGAEnabled:    fpga,
			Success:        success,
			Error:          rec[8],
		})
	}

	return items, nil
}
