package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"satsim/internal/model"
	"satsim/internal/netem"
)

// Exporter publishes emulator and benchmark state for Prometheus.
// A nil *Exporter is valid and records nothing.
type Exporter struct {
	reg *prometheus.Registry

	transfers      *prometheus.CounterVec
	throughput     *prometheus.HistogramVec
	lastThroughput *prometheus.GaugeVec

	profile   *prometheus.GaugeVec
	reapplies prometheus.Counter
	scenarios *prometheus.CounterVec
	qdisc     *prometheus.GaugeVec
}

// NewExporter creates an exporter with its own registry.
func NewExporter() *Exporter {
	e := &Exporter{
		reg: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satsim_transfers_total",
				Help: "Benchmark transfers by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		throughput: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satsim_transfer_throughput_kbps",
				Help:    "Throughput of successful transfers in kbit/s",
				Buckets: prometheus.ExponentialBuckets(8, 2, 20),
			},
			[]string{"mode"},
		),
		lastThroughput: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "satsim_transfer_last_throughput_kbps",
				Help: "Throughput of the most recent transfer",
			},
			[]string{"mode", "size_kb"},
		),
		profile: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "satsim_link_profile",
				Help: "Currently applied link impairment parameter",
			},
			[]string{"param"},
		),
		reapplies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "satsim_shaping_reapplies_total",
				Help: "Times the verifier found shaping missing and reapplied it",
			},
		),
		scenarios: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satsim_scenario_switches_total",
				Help: "Dynamic scenario activations",
			},
			[]string{"scenario"},
		),
		qdisc: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "satsim_qdisc_counter",
				Help: "Counters reported by tc for the netem qdisc",
			},
			[]string{"counter"},
		),
	}

	e.reg.MustRegister(
		e.transfers,
		e.throughput,
		e.lastThroughput,
		e.profile,
		e.reapplies,
		e.scenarios,
		e.qdisc,
	)
	return e
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.reg
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ModeLabel names the transfer configuration of a result.
func ModeLabel(proxy, fpga bool) string {
	switch {
	case proxy && fpga:
		return "proxy_fpga"
	case proxy:
		return "proxy"
	case fpga:
		return "direct_fpga"
	default:
		return "direct"
	}
}

// ObserveTransfer records one benchmark result.
func (e *Exporter) ObserveTransfer(r model.TransferResult) {
	if e == nil {
		return
	}
	mode := ModeLabel(r.ProxyEnabled, r.FPGAEnabled)
	status := "success"
	if !r.Success {
		status = "failure"
		if r.Error == model.TimeoutError {
			status = "timeout"
		}
	}
	e.transfers.WithLabelValues(mode, status).Inc()
	if r.Success {
		e.throughput.WithLabelValues(mode).Observe(r.ThroughputKbps)
	}
	e.lastThroughput.WithLabelValues(mode, strconv.FormatFloat(r.FileSizeKB, 'f', -1, 64)).Set(r.ThroughputKbps)
}

// SetProfile publishes the applied link profile.
func (e *Exporter) SetProfile(p model.LinkProfile) {
	if e == nil {
		return
	}
	e.profile.WithLabelValues("latency_ms").Set(p.LatencyMs)
	e.profile.WithLabelValues("jitter_ms").Set(p.JitterMs)
	e.profile.WithLabelValues("packet_loss_percent").Set(p.PacketLossPercent)
	e.profile.WithLabelValues("bandwidth_kbps").Set(p.BandwidthKbps)
}

// ClearProfile drops the profile gauges after shaping is removed.
func (e *Exporter) ClearProfile() {
	if e == nil {
		return
	}
	e.profile.Reset()
}

// IncReapply counts a self-healing reapplication.
func (e *Exporter) IncReapply() {
	if e == nil {
		return
	}
	e.reapplies.Inc()
}

// IncScenario counts a scenario activation.
func (e *Exporter) IncScenario(name string) {
	if e == nil {
		return
	}
	e.scenarios.WithLabelValues(name).Inc()
}

// SetQdiscStats publishes the latest tc counters.
func (e *Exporter) SetQdiscStats(st netem.QdiscStats) {
	if e == nil {
		return
	}
	e.qdisc.WithLabelValues("sent_bytes").Set(float64(st.SentBytes))
	e.qdisc.WithLabelValues("sent_packets").Set(float64(st.SentPackets))
	e.qdisc.WithLabelValues("dropped").Set(float64(st.Dropped))
	e.qdisc.WithLabelValues("overlimits").Set(float64(st.Overlimits))
	e.qdisc.WithLabelValues("requeues").Set(float64(st.Requeues))
	e.qdisc.WithLabelValues("backlog_bytes").Set(float64(st.BacklogBytes))
}
