package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"satsim/internal/config"
	"satsim/internal/metrics"
	"satsim/internal/model"
)

// ErrTransferTimeout marks a transfer aborted by its per-transfer deadline.
var ErrTransferTimeout = errors.New("transfer timed out")

type Config struct {
	ProxyAddr  string
	TargetAddr string
	SizesKB    []int
	Duration   time.Duration
	Interval   time.Duration
	Timeout    time.Duration
	TempDir    string
}

// ConfigFrom builds the run parameters from a validated config file.
func ConfigFrom(cfg config.Config) Config {
	ps := cfg.ProxySettings
	ts := cfg.TestSettings
	return Config{
		ProxyAddr:  net.JoinHostPort(ps.ProxyAddress, strconv.Itoa(ps.ProxyPort)),
		TargetAddr: net.JoinHostPort(ps.TargetAddress, strconv.Itoa(ps.TargetPort)),
		SizesKB:    append([]int(nil), ts.TestDataSizesKB...),
		Duration:   config.Seconds(ts.TestDurationSec),
		Interval:   config.Seconds(ts.TestIntervalSec),
		Timeout:    config.Seconds(ts.TransferTimeoutSec),
	}
}

type mode struct {
	proxy bool
	fpga  bool
}

var modes = []mode{
	{proxy: false, fpga: false},
	{proxy: true, fpga: false},
	{proxy: true, fpga: true},
}

// Benchmark runs sequential transfers and collects their results.
type Benchmark struct {
	cfg      Config
	client   TransferClient
	logger   log.Interface
	exporter *metrics.Exporter

	rng *rand.Rand
	now func() time.Time
}

func New(cfg Config, client TransferClient, logger log.Interface, exporter *metrics.Exporter) *Benchmark {
	if logger == nil {
		logger = log.Log
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTransferTimeoutSec * time.Second
	}
	return &Benchmark{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		exporter: exporter,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// RunTransfer sends one payload and reports the outcome. Failures are
// captured in the result, never returned.
func (b *Benchmark) RunTransfer(ctx context.Context, p Payload, proxyEnabled, fpgaEnabled bool) model.TransferResult {
	addr := b.cfg.TargetAddr
	if proxyEnabled {
		addr = b.cfg.ProxyAddr
	}

	res := model.TransferResult{
		TestID:       uuid.NewString(),
		Timestamp:    b.now(),
		FileSizeKB:   p.SizeKB,
		ProxyEnabled: proxyEnabled,
		FPGAEnabled:  fpgaEnabled,
	}
	logger := b.logger.WithFields(log.Fields{
		"test_id": res.TestID,
		"addr":    addr,
		"size_kb": p.SizeKB,
		"mode":    metrics.ModeLabel(proxyEnabled, fpgaEnabled),
	})

	tctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	start := b.now()
	err := b.client.Send(tctx, addr, p.Path)
	elapsed := b.now().Sub(start)

	if err == nil {
		res.Success = true
		res.DurationSec = elapsed.Seconds()
		res.ThroughputKbps = model.Throughput(p.SizeKB, res.DurationSec)
		logger.WithFields(log.Fields{
			"duration":        elapsed.Round(time.Millisecond),
			"throughput_kbps": res.ThroughputKbps,
		}).Info("transfer completed")
		return res
	}

	if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrTransferTimeout, b.cfg.Timeout)
		res.Error = model.TimeoutError
	} else {
		res.Error = err.Error()
	}
	res.DurationSec = elapsed.Seconds()
	logger.WithFields(log.Fields{
		"elapsed": elapsed.Round(time.Millisecond),
	}).WithError(err).Warn("transfer failed")
	return res
}

// Run prepares one payload per configured size, then transfers randomly
// chosen payloads in randomly chosen modes until the run duration elapses or
// ctx is cancelled. Payload files are always removed before returning.
func (b *Benchmark) Run(ctx context.Context) ([]model.TransferResult, error) {
	payloads := make([]Payload, 0, len(b.cfg.SizesKB))
	defer func() {
		for _, p := range payloads {
			if err := p.Remove(); err != nil {
				b.logger.WithField("path", p.Path).WithError(err).Warn("failed to remove payload")
			}
		}
	}()

	for _, size := range b.cfg.SizesKB {
		p, err := PreparePayload(b.cfg.TempDir, size)
		if err != nil {
			return nil, err
		}
		b.logger.WithFields(log.Fields{"size_kb": size, "path": p.Path}).Debug("payload ready")
		payloads = append(payloads, p)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%w: no payload sizes configured", ErrPayloadCreation)
	}

	b.logger.WithFields(log.Fields{
		"duration": b.cfg.Duration,
		"interval": b.cfg.Interval,
		"sizes_kb": b.cfg.SizesKB,
	}).Info("benchmark started")

	var results []model.TransferResult
	deadline := b.now().Add(b.cfg.Duration)
	for b.now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}

		p := payloads[b.rng.Intn(len(payloads))]
		m := modes[b.rng.Intn(len(modes))]
		res := b.RunTransfer(ctx, p, m.proxy, m.fpga)
		if ctx.Err() != nil {
			// Interrupted mid-transfer; the sample is not meaningful.
			break
		}
		results = append(results, res)
		b.exporter.ObserveTransfer(res)

		if b.cfg.Interval > 0 {
			t := time.NewTimer(b.cfg.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}

	b.logger.WithField("transfers", len(results)).Info("benchmark finished")
	return results, nil
}
