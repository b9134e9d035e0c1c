package stunutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
)

// startServer answers binding requests until the test ends. Requests are
// dropped while drop returns true.
func startServer(t *testing.T, drop func(n int) bool) string {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for n := 1; ; n++ {
			size, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if drop != nil && drop(n) {
				continue
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:size]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			udp := from.(*net.UDPAddr)
			resp, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: udp.IP, Port: udp.Port},
				stun.Fingerprint,
			)
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(resp.Raw, from)
		}
	}()

	return conn.LocalAddr().String()
}

func TestMeasure(t *testing.T) {
	t.Parallel()

	addr := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Measure(ctx, "stun:"+addr, 3, time.Second)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if len(res.RTTs) != 3 || res.Lost != 0 {
		t.Fatalf("rtts=%d lost=%d", len(res.RTTs), res.Lost)
	}
	if res.Mapped == "" {
		t.Fatalf("missing mapped address")
	}
	if got := len(res.Millis()); got != 3 {
		t.Fatalf("millis=%d", got)
	}
}

func TestMeasure_CountsLostRequests(t *testing.T) {
	t.Parallel()

	addr := startServer(t, func(n int) bool { return n == 1 })
	res, err := Measure(context.Background(), addr, 2, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if len(res.RTTs) != 1 || res.Lost != 1 {
		t.Fatalf("rtts=%d lost=%d", len(res.RTTs), res.Lost)
	}
}

func TestMeasure_AllLostIsError(t *testing.T) {
	t.Parallel()

	addr := startServer(t, func(int) bool { return true })
	res, err := Measure(context.Background(), addr, 2, 100*time.Millisecond)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.Lost != 2 {
		t.Fatalf("lost=%d", res.Lost)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if got := Classify([]string{"1.2.3.4:1"}); got != NATTypeUnknown {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:1"}); got != NATTypeConeOrRestricted {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:2"}); got != NATTypeSymmetric {
		t.Fatalf("got=%q", got)
	}
}
