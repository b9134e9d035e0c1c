package netem

import (
	"strconv"

	"satsim/internal/model"
)

// AddArgs renders the tc arguments installing p as the root netem qdisc of iface.
//
// The delay distribution is only emitted with a non-zero jitter since tc rejects
// a distribution without one. A zero bandwidth leaves the rate uncapped.
func AddArgs(iface string, p model.LinkProfile) []string {
	args := []string{"qdisc", "add", "dev", iface, "root", "netem",
		"delay", formatNumber(p.LatencyMs) + "ms"}
	if p.JitterMs > 0 {
		args = append(args, formatNumber(p.JitterMs)+"ms", "distribution", "normal")
	}
	args = append(args, "loss", formatNumber(p.PacketLossPercent)+"%")
	if p.BandwidthKbps > 0 {
		args = append(args, "rate", formatNumber(p.BandwidthKbps)+"kbit")
	}
	return args
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
