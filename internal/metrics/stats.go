package metrics

import (
	"sort"

	"github.com/montanaflynn/stats"

	"satsim/internal/model"
)

// BucketKey groups results that ran under the same configuration.
type BucketKey struct {
	FileSizeKB   float64
	ProxyEnabled bool
	FPGAEnabled  bool
}

// Summary describes one metric within a bucket. StdDev is only meaningful
// when HasStdDev is set, which requires at least two samples.
type Summary struct {
	Mean      float64
	Median    float64
	StdDev    float64
	HasStdDev bool
	Min       float64
	Max       float64
}

type BucketStats struct {
	Count      int
	Throughput Summary
	Duration   Summary
}

// Aggregate summarizes successful results per bucket. Failed transfers are
// excluded, so buckets with no successes are absent.
func Aggregate(results []model.TransferResult) map[BucketKey]BucketStats {
	throughput := make(map[BucketKey][]float64)
	duration := make(map[BucketKey][]float64)
	for _, r := range results {
		if !r.Success {
			continue
		}
		key := BucketKey{FileSizeKB: r.FileSizeKB, ProxyEnabled: r.ProxyEnabled, FPGAEnabled: r.FPGAEnabled}
		throughput[key] = append(throughput[key], r.ThroughputKbps)
		duration[key] = append(duration[key], r.DurationSec)
	}

	out := make(map[BucketKey]BucketStats, len(throughput))
	for key, tp := range throughput {
		out[key] = BucketStats{
			Count:      len(tp),
			Throughput: summarize(tp),
			Duration:   summarize(duration[key]),
		}
	}
	return out
}

func summarize(values []float64) Summary {
	var s Summary
	s.Mean, _ = stats.Mean(values)
	s.Median, _ = stats.Median(values)
	s.Min, _ = stats.Min(values)
	s.Max, _ = stats.Max(values)
	if len(values) > 1 {
		if sd, err := stats.StandardDeviationSample(values); err == nil {
			s.StdDev = sd
			s.HasStdDev = true
		}
	}
	return s
}

// SortedKeys orders buckets by size, then direct before proxy, then FPGA off before on.
func SortedKeys(buckets map[BucketKey]BucketStats) []BucketKey {
	keys := make([]BucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.FileSizeKB != b.FileSizeKB {
			return a.FileSizeKB < b.FileSizeKB
		}
		if a.ProxyEnabled != b.ProxyEnabled {
			return !a.ProxyEnabled
		}
		if a.FPGAEnabled != b.FPGAEnabled {
			return !a.FPGAEnabled
		}
		return false
	})
	return keys
}
