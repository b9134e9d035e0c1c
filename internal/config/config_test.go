package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleJSON = `{
  "interface": "eth1",
  "link": {"latency_ms": 600, "jitter_ms": 50, "packet_loss_percent": 1.5, "bandwidth_kbps": 10000},
  "enable_dynamic_conditions": true,
  "dynamic_scenarios": [
    {"name": "clear_sky", "latency_ms": 550, "jitter_ms": 20, "packet_loss_percent": 0.5, "bandwidth_kbps": 20000, "duration_sec": 60},
    {"name": "rain_fade", "latency_ms": 650, "jitter_ms": 80, "packet_loss_percent": 5, "bandwidth_kbps": 2000, "duration_sec": 0.5}
  ],
  "proxy_settings": {"proxy_address": "127.0.0.1", "proxy_port": 4433, "target_address": "10.0.0.2", "target_port": 5201},
  "test_settings": {"test_duration_sec": 300, "test_data_sizes_kb": [100, 1024], "concurrent_connections": 1, "test_interval_sec": 5}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_JSONDocument(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interface != "eth1" {
		t.Fatalf("interface=%q", cfg.Interface)
	}
	if cfg.Link.LatencyMs != 600 || cfg.Link.PacketLossPercent != 1.5 {
		t.Fatalf("link=%+v", cfg.Link)
	}
	if cfg.StatusIntervalSec != DefaultStatusIntervalSec {
		t.Fatalf("status_interval_sec=%d", cfg.StatusIntervalSec)
	}
	if cfg.TestSettings.TransferTimeoutSec != DefaultTransferTimeoutSec {
		t.Fatalf("transfer_timeout_sec=%v", cfg.TestSettings.TransferTimeoutSec)
	}
	if cfg.TestSettings.OutputFormat != "csv" || cfg.TestSettings.OutputDir != DefaultOutputDir {
		t.Fatalf("output=%q %q", cfg.TestSettings.OutputFormat, cfg.TestSettings.OutputDir)
	}

	scenarios := cfg.Scenarios()
	if len(scenarios) != 2 || scenarios[0].Name != "clear_sky" || scenarios[1].Name != "rain_fade" {
		t.Fatalf("scenarios=%+v", scenarios)
	}
	if scenarios[1].Duration != 500*time.Millisecond {
		t.Fatalf("duration=%v", scenarios[1].Duration)
	}
	if err := ValidateEmulator(cfg); err != nil {
		t.Fatalf("ValidateEmulator: %v", err)
	}
	if err := ValidateBenchmark(cfg); err != nil {
		t.Fatalf("ValidateBenchmark: %v", err)
	}
}

func TestLoad_YAMLDocument(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "link:\n  latency_ms: 250\nstatus_interval_sec: 10\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Link.LatencyMs != 250 || cfg.StatusInterval() != 10*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.TestSettings != nil {
		t.Fatalf("unexpected test_settings: %+v", cfg.TestSettings)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Load(""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty path err=%v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing file err=%v", err)
	}
	if _, err := Load(writeConfig(t, "{not json")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad syntax err=%v", err)
	}
}

func TestValidateEmulator_RejectsBadProfiles(t *testing.T) {
	t.Parallel()

	cfg := Config{Link: LinkConfig{PacketLossPercent: 101}}
	ApplyDefaults(&cfg)
	if err := ValidateEmulator(cfg); !errors.Is(err, ErrInvalid) {
		t.Fatalf("loss err=%v", err)
	}

	cfg = Config{DynamicScenarios: []ScenarioConfig{{Name: "s", DurationSec: 0}}}
	ApplyDefaults(&cfg)
	if err := ValidateEmulator(cfg); err == nil {
		t.Fatalf("expected duration error")
	}

	cfg = Config{DynamicScenarios: []ScenarioConfig{{Name: "s", DurationSec: 1, JitterMs: -1}}}
	if err := ValidateEmulator(cfg); err == nil {
		t.Fatalf("expected jitter error")
	}
}

func TestValidateBenchmark_RequiresSections(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if err := ValidateBenchmark(cfg); err == nil {
		t.Fatalf("expected error")
	}

	cfg.ProxySettings = &ProxySettings{ProxyAddress: "127.0.0.1", ProxyPort: 1, TargetAddress: "127.0.0.1", TargetPort: 2}
	cfg.TestSettings = &TestSettings{TestDurationSec: 5, TestDataSizesKB: []int{100}, TestIntervalSec: 1}
	ApplyDefaults(&cfg)
	if err := ValidateBenchmark(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	cfg.TestSettings.OutputFormat = "xlsx"
	if err := ValidateBenchmark(cfg); err == nil {
		t.Fatalf("expected format error")
	}
	cfg.TestSettings.OutputFormat = "parquet"
	cfg.TestSettings.TestDataSizesKB = []int{0}
	if err := ValidateBenchmark(cfg); err == nil {
		t.Fatalf("expected size error")
	}
}
