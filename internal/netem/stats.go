package netem

import (
	"strconv"
	"strings"
)

// QdiscStats holds the counters tc reports for the netem qdisc.
type QdiscStats struct {
	Present      bool
	SentBytes    int64
	SentPackets  int64
	Dropped      int64
	Overlimits   int64
	Requeues     int64
	BacklogBytes int64
}

// ParseStats parses `tc -s qdisc show dev <iface>` output. Only the netem
// qdisc block is considered; other qdiscs (e.g. children of a tbf) are skipped.
//
//	qdisc netem 8001: root refcnt 2 limit 1000 delay 600ms  50ms loss 1.5% rate 10Mbit
//	 Sent 12345 bytes 67 pkt (dropped 3, overlimits 0 requeues 0)
//	 backlog 0b 0p requeues 0
func ParseStats(out string) QdiscStats {
	var st QdiscStats
	inNetem := false
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(line))
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "qdisc" {
			inNetem = len(fields) >= 2 && fields[1] == "netem"
			if inNetem {
				st.Present = true
			}
			continue
		}
		if !inNetem {
			continue
		}
		switch fields[0] {
		case "Sent":
			st.SentBytes = valueAfter(fields, "Sent")
			st.SentPackets = valueAfter(fields, "bytes")
			st.Dropped = valueAfter(fields, "dropped")
			st.Overlimits = valueAfter(fields, "overlimits")
			st.Requeues = valueAfter(fields, "requeues")
		case "backlog":
			if len(fields) >= 2 {
				st.BacklogBytes = parseInt(strings.TrimSuffix(fields[1], "b"))
			}
		}
	}
	return st
}

func valueAfter(fields []string, key string) int64 {
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == key {
			return parseInt(fields[i+1])
		}
	}
	return 0
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
