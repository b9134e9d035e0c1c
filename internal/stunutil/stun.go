package stunutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// Result holds the binding round trips measured against one STUN server.
type Result struct {
	Server string
	Mapped string
	RTTs   []time.Duration
	Lost   int
}

// Millis returns the successful round trips in milliseconds.
func (r Result) Millis() []float64 {
	out := make([]float64, 0, len(r.RTTs))
	for _, d := range r.RTTs {
		out = append(out, float64(d.Microseconds())/1000.0)
	}
	return out
}

// Measure sends count binding requests to server, one at a time, and records
// the round trip of each answered request. Requests that time out are
// counted as lost. An error is returned only when nothing was answered.
func Measure(ctx context.Context, server string, count int, timeout time.Duration) (Result, error) {
	res := Result{Server: server}
	addr, err := resolve(server)
	if err != nil {
		return res, err
	}
	if count <= 0 {
		count = 1
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return res, err
	}
	defer conn.Close()

	var lastErr error
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rtt, mapped, err := roundTrip(ctx, conn, timeout)
		if err != nil {
			res.Lost++
			lastErr = err
			continue
		}
		res.RTTs = append(res.RTTs, rtt)
		res.Mapped = mapped
	}

	if len(res.RTTs) == 0 {
		if lastErr == nil {
			lastErr = errors.New("STUN probe failed")
		}
		return res, fmt.Errorf("%s: %w", server, lastErr)
	}
	return res, nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	first := addrs[0]
	for _, addr := range addrs[1:] {
		if addr != first {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func resolve(server string) (*net.UDPAddr, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, errors.New("empty STUN server")
	}
	server = strings.TrimPrefix(server, "stun:")
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "3478")
	}
	return net.ResolveUDPAddr("udp", server)
}

func roundTrip(ctx context.Context, conn *net.UDPConn, timeout time.Duration) (time.Duration, string, error) {
	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return 0, "", err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, "", err
	}

	start := time.Now()
	if _, err := conn.Write(req.Raw); err != nil {
		return 0, "", err
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return 0, "", err
		}
		rtt := time.Since(start)

		msg := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := msg.Decode(); err != nil {
			continue
		}
		// Late answers to an earlier, timed-out request are skipped.
		if msg.TransactionID != req.TransactionID {
			continue
		}
		if msg.Type != stun.BindingSuccess {
			return 0, "", fmt.Errorf("unexpected STUN response %s", msg.Type)
		}
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(msg); err != nil {
			return 0, "", err
		}
		return rtt, mapped.String(), nil
	}
}
