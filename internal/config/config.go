package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"satsim/internal/model"
)

const (
	DefaultStatusIntervalSec     = 30
	DefaultTransferTimeoutSec    = 300
	DefaultConcurrentConnections = 1
	DefaultOutputDir             = "./results"
	DefaultOutputFormat          = "csv"
)

// ErrInvalid marks configuration that cannot be loaded or used.
var ErrInvalid = errors.New("invalid config")

// Config is the shared emulator + benchmark configuration file.
// JSON documents are accepted as well since JSON is a subset of YAML.
type Config struct {
	Interface               string           `yaml:"interface,omitempty"`
	Link                    LinkConfig       `yaml:"link"`
	StatusIntervalSec       int              `yaml:"status_interval_sec,omitempty"`
	EnableDynamicConditions bool             `yaml:"enable_dynamic_conditions,omitempty"`
	DynamicScenarios        []ScenarioConfig `yaml:"dynamic_scenarios,omitempty"`
	ProxySettings           *ProxySettings   `yaml:"proxy_settings,omitempty"`
	TestSettings            *TestSettings    `yaml:"test_settings,omitempty"`
}

// LinkConfig describes the impairment applied to the outbound interface.
type LinkConfig struct {
	LatencyMs         float64 `yaml:"latency_ms"`
	JitterMs          float64 `yaml:"jitter_ms"`
	PacketLossPercent float64 `yaml:"packet_loss_percent"`
	BandwidthKbps     float64 `yaml:"bandwidth_kbps"`
}

// ScenarioConfig is one entry of the dynamic scenario list.
type ScenarioConfig struct {
	Name              string  `yaml:"name"`
	LatencyMs         float64 `yaml:"latency_ms"`
	JitterMs          float64 `yaml:"jitter_ms"`
	PacketLossPercent float64 `yaml:"packet_loss_percent"`
	BandwidthKbps     float64 `yaml:"bandwidth_kbps"`
	DurationSec       float64 `yaml:"duration_sec"`
}

// ProxySettings tells the benchmark where to send payloads.
type ProxySettings struct {
	ProxyAddress  string `yaml:"proxy_address"`
	ProxyPort     int    `yaml:"proxy_port"`
	TargetAddress string `yaml:"target_address"`
	TargetPort    int    `yaml:"target_port"`
}

// TestSettings drives the benchmark sampling loop.
type TestSettings struct {
	TestDurationSec       float64 `yaml:"test_duration_sec"`
	TestDataSizesKB       []int   `yaml:"test_data_sizes_kb"`
	ConcurrentConnections int     `yaml:"concurrent_connections"`
	TestIntervalSec       float64 `yaml:"test_interval_sec"`
	TransferTimeoutSec    float64 `yaml:"transfer_timeout_sec,omitempty"`
	TransferCommand       string  `yaml:"transfer_command,omitempty"`
	ClientRateLimitKbps   float64 `yaml:"client_rate_limit_kbps,omitempty"`
	OutputDir             string  `yaml:"output_dir,omitempty"`
	OutputFormat          string  `yaml:"output_format,omitempty"`
}

// Load reads and parses a YAML (or JSON) config file.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("%w: --config is required", ErrInvalid)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.StatusIntervalSec == 0 {
		cfg.StatusIntervalSec = DefaultStatusIntervalSec
	}

	if ts := cfg.TestSettings; ts != nil {
		if ts.ConcurrentConnections == 0 {
			ts.ConcurrentConnections = DefaultConcurrentConnections
		}
		if ts.TransferTimeoutSec == 0 {
			ts.TransferTimeoutSec = DefaultTransferTimeoutSec
		}
		if ts.OutputDir == "" {
			ts.OutputDir = DefaultOutputDir
		}
		if ts.OutputFormat == "" {
			ts.OutputFormat = DefaultOutputFormat
		}
	}
}

// ValidateEmulator checks the sections used by the condition emulator.
func ValidateEmulator(cfg Config) error {
	if err := cfg.Profile().Validate(); err != nil {
		return fmt.Errorf("%w: link: %v", ErrInvalid, err)
	}
	if cfg.StatusIntervalSec < 0 {
		return fmt.Errorf("%w: status_interval_sec must be > 0", ErrInvalid)
	}
	for i, sc := range cfg.DynamicScenarios {
		if sc.Name == "" {
			return fmt.Errorf("%w: dynamic_scenarios[%d].name is required", ErrInvalid, i)
		}
		if sc.DurationSec <= 0 {
			return fmt.Errorf("%w: dynamic_scenarios[%d] (%s): duration_sec must be > 0", ErrInvalid, i, sc.Name)
		}
		if err := sc.Profile().Validate(); err != nil {
			return fmt.Errorf("%w: dynamic_scenarios[%d] (%s): %v", ErrInvalid, i, sc.Name, err)
		}
	}
	return nil
}

// ValidateBenchmark checks the sections used by the transfer benchmark.
func ValidateBenchmark(cfg Config) error {
	ps := cfg.ProxySettings
	if ps == nil {
		return fmt.Errorf("%w: proxy_settings is required", ErrInvalid)
	}
	if ps.ProxyAddress == "" || ps.ProxyPort <= 0 {
		return fmt.Errorf("%w: proxy_settings.proxy_address and proxy_port are required", ErrInvalid)
	}
	if ps.TargetAddress == "" || ps.TargetPort <= 0 {
		return fmt.Errorf("%w: proxy_settings.target_address and target_port are required", ErrInvalid)
	}

	ts := cfg.TestSettings
	if ts == nil {
		return fmt.Errorf("%w: test_settings is required", ErrInvalid)
	}
	if ts.TestDurationSec <= 0 {
		return fmt.Errorf("%w: test_settings.test_duration_sec must be > 0", ErrInvalid)
	}
	if len(ts.TestDataSizesKB) == 0 {
		return fmt.Errorf("%w: test_settings.test_data_sizes_kb must not be empty", ErrInvalid)
	}
	for _, size := range ts.TestDataSizesKB {
		if size <= 0 {
			return fmt.Errorf("%w: test_settings.test_data_sizes_kb: size %d must be > 0", ErrInvalid, size)
		}
	}
	if ts.TestIntervalSec < 0 {
		return fmt.Errorf("%w: test_settings.test_interval_sec must be >= 0", ErrInvalid)
	}
	if ts.ConcurrentConnections < 1 {
		return fmt.Errorf("%w: test_settings.concurrent_connections must be >= 1", ErrInvalid)
	}
	if ts.ClientRateLimitKbps < 0 {
		return fmt.Errorf("%w: test_settings.client_rate_limit_kbps must be >= 0", ErrInvalid)
	}
	if ts.TransferTimeoutSec < 0 {
		return fmt.Errorf("%w: test_settings.transfer_timeout_sec must be > 0", ErrInvalid)
	}
	switch strings.ToLower(ts.OutputFormat) {
	case "csv", "parquet":
	default:
		return fmt.Errorf("%w: test_settings.output_format %q (want csv|parquet)", ErrInvalid, ts.OutputFormat)
	}
	return nil
}

// Profile returns the configured link as a model profile.
func (c Config) Profile() model.LinkProfile {
	return model.LinkProfile{
		LatencyMs:         c.Link.LatencyMs,
		JitterMs:          c.Link.JitterMs,
		PacketLossPercent: c.Link.PacketLossPercent,
		BandwidthKbps:     c.Link.BandwidthKbps,
	}
}

// Profile returns the scenario's link parameters.
func (s ScenarioConfig) Profile() model.LinkProfile {
	return model.LinkProfile{
		LatencyMs:         s.LatencyMs,
		JitterMs:          s.JitterMs,
		PacketLossPercent: s.PacketLossPercent,
		BandwidthKbps:     s.BandwidthKbps,
	}
}

// Scenarios converts the configured scenario list, preserving order.
func (c Config) Scenarios() []model.Scenario {
	out := make([]model.Scenario, 0, len(c.DynamicScenarios))
	for _, sc := range c.DynamicScenarios {
		out = append(out, model.Scenario{
			Name:     sc.Name,
			Profile:  sc.Profile(),
			Duration: Seconds(sc.DurationSec),
		})
	}
	return out
}

// StatusInterval is the verification period of the emulator.
func (c Config) StatusInterval() time.Duration {
	return Seconds(float64(c.StatusIntervalSec))
}

// Seconds converts a fractional second count from the config into a duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
