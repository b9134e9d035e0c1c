package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/montanaflynn/stats"

	"satsim/internal/bench"
	"satsim/internal/config"
	"satsim/internal/emulator"
	"satsim/internal/execx"
	"satsim/internal/metrics"
	"satsim/internal/netem"
	"satsim/internal/route"
	"satsim/internal/stunutil"
)

const usage = `satsim - satellite link emulation and transfer benchmark

Usage:
  satsim emulate --config <path> [--iface <name>] [--verbose] [--metrics-listen <addr>]
  satsim bench --config <path> [--output <dir>] [--format csv|parquet] [--verbose] [--metrics-listen <addr>]
  satsim status --config <path> [--iface <name>]
  satsim clear --config <path> [--iface <name>]
  satsim stats --results <file.csv>
  satsim probe --stun <host:port>[,...] [--config <path>] [--count N] [--timeout 2s]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "emulate":
		handleEmulate(os.Args[2:])
	case "bench":
		handleBench(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "clear":
		handleClear(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "probe":
		handleProbe(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleEmulate(args []string) {
	fs := flag.NewFlagSet("emulate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML or JSON config")
	iface := fs.String("iface", "", "interface to shape (default: auto-detect)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	metricsListen := fs.String("metrics-listen", "", "serve Prometheus metrics on this address")
	_ = fs.Parse(args)

	setupLogging(*verbose)
	requireRoot()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *iface != "" {
		cfg.Interface = *iface
	}
	if err := config.ValidateEmulator(cfg); err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	exporter := startExporter(ctx, *metricsListen)
	runner := execx.NewOSRunner(os.Stdout, os.Stderr)
	em := emulator.New(emulator.Options{
		Interface:      cfg.Interface,
		Profile:        cfg.Profile(),
		StatusInterval: cfg.StatusInterval(),
		Dynamic:        cfg.EnableDynamicConditions,
		Scenarios:      cfg.Scenarios(),
	}, netem.NewManager(runner, log.Log), route.NewResolver(runner), log.Log, exporter)

	if err := em.Start(ctx); err != nil {
		fatal(err)
	}
	log.WithField("iface", em.Interface()).Info("emulator running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-em.Done():
	}
	_ = em.Stop()
	fatal(em.Err())
}

func handleBench(args []string) {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML or JSON config")
	output := fs.String("output", "", "directory for the result file")
	format := fs.String("format", "", "result file format: csv|parquet")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	metricsListen := fs.String("metrics-listen", "", "serve Prometheus metrics on this address")
	_ = fs.Parse(args)

	setupLogging(*verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := config.ValidateBenchmark(cfg); err != nil {
		fatal(err)
	}
	ts := cfg.TestSettings
	if *output != "" {
		ts.OutputDir = *output
	}
	if *format != "" {
		ts.OutputFormat = *format
	}
	if ts.ConcurrentConnections > 1 {
		log.WithField("concurrent_connections", ts.ConcurrentConnections).Warn("transfers run sequentially; concurrent_connections is informational")
	}

	ctx, cancel := signalContext()
	defer cancel()

	exporter := startExporter(ctx, *metricsListen)
	b := bench.New(bench.ConfigFrom(cfg), transferClient(ts), log.Log, exporter)
	results, err := b.Run(ctx)
	if err != nil {
		fatal(err)
	}

	path, err := metrics.Persist(ts.OutputDir, ts.OutputFormat, results, time.Now())
	switch {
	case errors.Is(err, metrics.ErrNoResults):
		log.Warn("no results to save")
	case err != nil:
		fatal(err)
	default:
		log.WithField("path", path).Info("results saved")
	}
	printSummary(os.Stdout, len(results), metrics.Aggregate(results))
}

func transferClient(ts *config.TestSettings) bench.TransferClient {
	if strings.TrimSpace(ts.TransferCommand) == "" {
		return bench.TCPClient{DialTimeout: 10 * time.Second, RateLimitKbps: ts.ClientRateLimitKbps}
	}
	return bench.CommandClient{
		Runner:   execx.NewOSRunner(io.Discard, os.Stderr),
		Template: ts.TransferCommand,
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML or JSON config")
	iface := fs.String("iface", "", "interface to inspect")
	_ = fs.Parse(args)

	setupLogging(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner := execx.NewOSRunner(os.Stdout, os.Stderr)
	name := resolveInterface(ctx, runner, *configPath, *iface)
	mgr := netem.NewManager(runner, log.Log)

	show, err := mgr.Show(ctx, name)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "interface: %s\n", name)
	fmt.Fprintf(os.Stdout, "netem:     %t\n", netem.HasNetem(show))
	fmt.Fprintln(os.Stdout, show)

	st, err := mgr.Stats(ctx, name)
	if err != nil {
		fatal(err)
	}
	if st.Present {
		fmt.Fprintf(os.Stdout, "sent %d bytes %d pkt (dropped %d, overlimits %d, requeues %d) backlog %db\n",
			st.SentBytes, st.SentPackets, st.Dropped, st.Overlimits, st.Requeues, st.BacklogBytes)
	}
}

func handleClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML or JSON config")
	iface := fs.String("iface", "", "interface to clear")
	_ = fs.Parse(args)

	setupLogging(false)
	requireRoot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner := execx.NewOSRunner(os.Stdout, os.Stderr)
	name := resolveInterface(ctx, runner, *configPath, *iface)
	if err := netem.NewManager(runner, log.Log).Clear(ctx, name); err != nil {
		fatal(err)
	}
	log.WithField("iface", name).Info("shaping removed")
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	resultsPath := fs.String("results", "", "result CSV written by bench")
	_ = fs.Parse(args)

	setupLogging(false)
	if *resultsPath == "" {
		fmt.Fprintln(os.Stderr, "--results is required")
		os.Exit(2)
	}
	results, err := metrics.ReadCSV(*resultsPath)
	if err != nil {
		fatal(err)
	}
	printSummary(os.Stdout, len(results), metrics.Aggregate(results))
}

func handleProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML or JSON config (for the configured latency)")
	stunList := fs.String("stun", "", "comma-separated STUN servers")
	count := fs.Int("count", 5, "binding requests per server")
	timeout := fs.Duration("timeout", 2*time.Second, "per-request timeout")
	_ = fs.Parse(args)

	setupLogging(false)
	servers := splitList(*stunList)
	if len(servers) == 0 {
		fmt.Fprintln(os.Stderr, "--stun is required")
		os.Exit(2)
	}

	configured := -1.0
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		configured = cfg.Link.LatencyMs
	}

	ctx, cancel := signalContext()
	defer cancel()

	var mapped []string
	fmt.Fprintf(os.Stdout, "%-28s  %4s  %4s  %9s  %9s  %9s  %9s\n", "SERVER", "OK", "LOST", "MIN_MS", "MEDIAN_MS", "MEAN_MS", "MAX_MS")
	for _, server := range servers {
		res, err := stunutil.Measure(ctx, server, *count, *timeout)
		if err != nil {
			log.WithField("server", server).WithError(err).Warn("STUN probe failed")
			continue
		}
		mapped = append(mapped, res.Mapped)
		ms := res.Millis()
		minV, _ := stats.Min(ms)
		medV, _ := stats.Median(ms)
		meanV, _ := stats.Mean(ms)
		maxV, _ := stats.Max(ms)
		fmt.Fprintf(os.Stdout, "%-28s  %4d  %4d  %9.2f  %9.2f  %9.2f  %9.2f\n", server, len(ms), res.Lost, minV, medV, meanV, maxV)
		if configured >= 0 {
			fmt.Fprintf(os.Stdout, "  configured latency %.0fms, excess %.2fms\n", configured, meanV-configured)
		}
	}
	if len(mapped) == 0 {
		fatal(errors.New("no STUN server answered"))
	}
	fmt.Fprintf(os.Stdout, "mapped address %s (nat: %s)\n", mapped[0], stunutil.Classify(mapped))
}

func resolveInterface(ctx context.Context, runner execx.Runner, configPath, explicit string) string {
	if explicit == "" && configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fatal(err)
		}
		explicit = cfg.Interface
	}
	name, err := route.NewResolver(runner).Resolve(ctx, explicit)
	if err != nil {
		fatal(err)
	}
	return name
}

func printSummary(w io.Writer, total int, buckets map[metrics.BucketKey]metrics.BucketStats) {
	fmt.Fprintf(w, "transfers: %d\n", total)
	if len(buckets) == 0 {
		fmt.Fprintln(w, "no successful transfers")
		return
	}
	fmt.Fprintf(w, "%-10s  %-11s  %4s  %10s  %10s  %10s  %10s  %10s  %9s\n",
		"SIZE_KB", "MODE", "N", "MEAN_KBPS", "MEDIAN", "STDDEV", "MIN", "MAX", "MEAN_SEC")
	for _, key := range metrics.SortedKeys(buckets) {
		b := buckets[key]
		stddev := "-"
		if b.Throughput.HasStdDev {
			stddev = fmt.Sprintf("%.2f", b.Throughput.StdDev)
		}
		fmt.Fprintf(w, "%-10g  %-11s  %4d  %10.2f  %10.2f  %10s  %10.2f  %10.2f  %9.3f\n",
			key.FileSizeKB, metrics.ModeLabel(key.ProxyEnabled, key.FPGAEnabled), b.Count,
			b.Throughput.Mean, b.Throughput.Median, stddev, b.Throughput.Min, b.Throughput.Max, b.Duration.Mean)
	}
}

func startExporter(ctx context.Context, addr string) *metrics.Exporter {
	if addr == "" {
		return nil
	}
	exporter := metrics.NewExporter()
	go func() {
		if err := exporter.Serve(ctx, addr); err != nil {
			log.WithField("addr", addr).WithError(err).Error("metrics listener failed")
		}
	}()
	log.WithField("addr", addr).Info("serving /metrics")
	return exporter
}

func setupLogging(verbose bool) {
	log.SetHandler(cli.New(os.Stderr))
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func requireRoot() {
	if os.Geteuid() != 0 {
		fatal(errors.New("traffic control requires root privileges"))
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	log.WithError(err).Error("fatal")
	os.Exit(1)
}
