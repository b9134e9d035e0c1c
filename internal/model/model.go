package model

import (
	"fmt"
	"time"
)

// LinkProfile is a set of impairment parameters applied to an interface at one time.
// A zero BandwidthKbps means the rate is not capped.
type LinkProfile struct {
	LatencyMs         float64
	JitterMs          float64
	PacketLossPercent float64
	BandwidthKbps     float64
}

// Validate checks that every field is non-negative and that loss is a percentage.
func (p LinkProfile) Validate() error {
	if p.LatencyMs < 0 {
		return fmt.Errorf("latency_ms must be >= 0, got %v", p.LatencyMs)
	}
	if p.JitterMs < 0 {
		return fmt.Errorf("jitter_ms must be >= 0, got %v", p.JitterMs)
	}
	if p.PacketLossPercent < 0 || p.PacketLossPercent > 100 {
		return fmt.Errorf("packet_loss_percent must be in [0,100], got %v", p.PacketLossPercent)
	}
	if p.BandwidthKbps < 0 {
		return fmt.Errorf("bandwidth_kbps must be >= 0, got %v", p.BandwidthKbps)
	}
	return nil
}

func (p LinkProfile) String() string {
	return fmt.Sprintf("latency=%gms jitter=%gms loss=%g%% bandwidth=%gkbps",
		p.LatencyMs, p.JitterMs, p.PacketLossPercent, p.BandwidthKbps)
}

// Scenario is a profile held for a fixed duration during dynamic cycling.
type Scenario struct {
	Name     string
	Profile  LinkProfile
	Duration time.Duration
}

// TimeoutError is the Error text of a transfer aborted by its deadline.
const TimeoutError = "Timeout"

// TransferResult is the outcome of a single benchmark transfer.
type TransferResult struct {
	TestID         string
	Timestamp      time.Time
	FileSizeKB     float64
	DurationSec    float64
	ThroughputKbps float64
	ProxyEnabled   bool
	FPGAEnabled    bool
	Success        bool
	Error          string
}

// Throughput returns kilobits per second for sizeKB transferred in seconds,
// or 0 when no time elapsed.
func Throughput(sizeKB, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return sizeKB * 8 / seconds
}
