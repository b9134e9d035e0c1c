package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satsim/internal/model"
)

func TestAggregate_SingleSampleHasNoStdDev(t *testing.T) {
	t.Parallel()

	got := Aggregate([]model.TransferResult{
		{FileSizeKB: 100, DurationSec: 2, ThroughputKbps: 400, Success: true},
	})
	require.Len(t, got, 1)
	b := got[BucketKey{FileSizeKB: 100}]
	assert.Equal(t, 1, b.Count)
	assert.Equal(t, 400.0, b.Throughput.Mean)
	assert.Equal(t, 400.0, b.Throughput.Median)
	assert.False(t, b.Throughput.HasStdDev)
}

func TestAggregate_TwoSamples(t *testing.T) {
	t.Parallel()

	got := Aggregate([]model.TransferResult{
		{FileSizeKB: 100, ThroughputKbps: 10, DurationSec: 1, Success: true},
		{FileSizeKB: 100, ThroughputKbps: 20, DurationSec: 3, Success: true},
	})
	b := got[BucketKey{FileSizeKB: 100}]
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, 15.0, b.Throughput.Mean)
	assert.Equal(t, 15.0, b.Throughput.Median)
	assert.Equal(t, 10.0, b.Throughput.Min)
	assert.Equal(t, 20.0, b.Throughput.Max)
	assert.True(t, b.Throughput.HasStdDev)
	assert.InDelta(t, 7.0711, b.Throughput.StdDev, 1e-3)
	assert.Equal(t, 2.0, b.Duration.Mean)
}

func TestAggregate_ExcludesFailuresAndSplitsModes(t *testing.T) {
	t.Parallel()

	got := Aggregate([]model.TransferResult{
		{FileSizeKB: 100, ThroughputKbps: 10, Success: true},
		{FileSizeKB: 100, ThroughputKbps: 99, Success: false, Error: model.TimeoutError},
		{FileSizeKB: 100, ThroughputKbps: 30, ProxyEnabled: true, Success: true},
		{FileSizeKB: 500, Success: false, Error: "refused"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[BucketKey{FileSizeKB: 100}].Throughput.Max)
	assert.Equal(t, 30.0, got[BucketKey{FileSizeKB: 100, ProxyEnabled: true}].Throughput.Mean)
	_, ok := got[BucketKey{FileSizeKB: 500}]
	assert.False(t, ok)
}

func TestSortedKeys(t *testing.T) {
	t.Parallel()

	buckets := map[BucketKey]BucketStats{
		{FileSizeKB: 500}:                                        {},
		{FileSizeKB: 100, ProxyEnabled: true}:                    {},
		{FileSizeKB: 100, FPGAEnabled: true}:                     {},
		{FileSizeKB: 100}:                                        {},
		{FileSizeKB: 100, ProxyEnabled: true, FPGAEnabled: true}: {},
	}
	want := []BucketKey{
		{FileSizeKB: 100},
		{FileSizeKB: 100, FPGAEnabled: true},
		{FileSizeKB: 100, ProxyEnabled: true},
		{FileSizeKB: 100, ProxyEnabled: true, FPGAEnabled: true},
		{FileSizeKB: 500},
	}
	assert.Equal(t, want, SortedKeys(buckets))
}
