package main

import (
	"bytes"
	"strings"
	"testing"

	"satsim/internal/bench"
	"satsim/internal/config"
	"satsim/internal/metrics"
	"satsim/internal/model"
)

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	results := []model.TransferResult{
		{FileSizeKB: 100, ThroughputKbps: 10, DurationSec: 1, Success: true},
		{FileSizeKB: 100, ThroughputKbps: 20, DurationSec: 1, Success: true},
		{FileSizeKB: 1024, ThroughputKbps: 50, DurationSec: 2, ProxyEnabled: true, Success: true},
		{FileSizeKB: 1024, Error: model.TimeoutError},
	}
	var buf bytes.Buffer
	printSummary(&buf, len(results), metrics.Aggregate(results))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d\n%s", len(lines), buf.String())
	}
	if lines[0] != "transfers: 4" {
		t.Fatalf("first line %q", lines[0])
	}
	if !strings.Contains(lines[2], "direct") || !strings.Contains(lines[2], "15.00") {
		t.Fatalf("direct bucket: %q", lines[2])
	}
	if !strings.Contains(lines[3], "proxy") || !strings.Contains(lines[3], " - ") {
		t.Fatalf("single-sample bucket should omit stddev: %q", lines[3])
	}
}

func TestPrintSummary_NoSuccess(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSummary(&buf, 1, metrics.Aggregate([]model.TransferResult{{Error: "refused"}}))
	if !strings.Contains(buf.String(), "no successful transfers") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestTransferClient(t *testing.T) {
	t.Parallel()

	if _, ok := transferClient(&config.TestSettings{}).(bench.TCPClient); !ok {
		t.Fatalf("default client should be TCP")
	}
	c, ok := transferClient(&config.TestSettings{TransferCommand: "nc -N {host} {port}"}).(bench.CommandClient)
	if !ok || c.Template != "nc -N {host} {port}" {
		t.Fatalf("got %#v", c)
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	got := splitList(" a:1, ,b:2,")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Fatalf("got %v", got)
	}
}
