package netem

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"satsim/internal/execx"
	"satsim/internal/model"
)

type recordRunner struct {
	cmds   []string
	fail   map[string]error
	output string
}

func (r *recordRunner) Run(_ context.Context, name string, args ...string) error {
	cmd := name + " " + strings.Join(args, " ")
	r.cmds = append(r.cmds, cmd)
	for prefix, err := range r.fail {
		if strings.HasPrefix(cmd, prefix) {
			return err
		}
	}
	return nil
}

func (r *recordRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	r.cmds = append(r.cmds, name+" "+strings.Join(args, " "))
	return r.output, nil
}

func (r *recordRunner) RunInput(ctx context.Context, _ io.Reader, name string, args ...string) error {
	return r.Run(ctx, name, args...)
}

var _ execx.Runner = (*recordRunner)(nil)

func TestManagerApply_ClearsThenAdds(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{fail: map[string]error{
		"tc qdisc del": errors.New("exit status 2: Error: Cannot delete qdisc with handle of zero."),
	}}
	m := NewManager(rr, nil)

	p := model.LinkProfile{LatencyMs: 600, JitterMs: 50, PacketLossPercent: 1.5, BandwidthKbps: 10000}
	if err := m.Apply(context.Background(), "eth0", p); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []string{
		"tc qdisc del dev eth0 root",
		"tc qdisc add dev eth0 root netem delay 600ms 50ms distribution normal loss 1.5% rate 10000kbit",
	}
	if len(rr.cmds) != len(want) {
		t.Fatalf("cmds=%v", rr.cmds)
	}
	for i := range want {
		if rr.cmds[i] != want[i] {
			t.Fatalf("cmd[%d]=%q want %q", i, rr.cmds[i], want[i])
		}
	}
}

func TestManagerApply_FailureIsShapingError(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{fail: map[string]error{
		"tc qdisc add": errors.New("exit status 2: RTNETLINK answers: Operation not permitted"),
	}}
	m := NewManager(rr, nil)

	err := m.Apply(context.Background(), "eth0", model.LinkProfile{LatencyMs: 100})
	if !errors.Is(err, ErrShapingApply) {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(err.Error(), "Operation not permitted") {
		t.Fatalf("err lacks cause: %v", err)
	}
}

func TestManagerApply_RejectsInvalidProfile(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{}
	m := NewManager(rr, nil)
	if err := m.Apply(context.Background(), "eth0", model.LinkProfile{PacketLossPercent: 120}); !errors.Is(err, ErrShapingApply) {
		t.Fatalf("err=%v", err)
	}
	if len(rr.cmds) != 0 {
		t.Fatalf("unexpected cmds=%v", rr.cmds)
	}
}

func TestManagerClear_MissingQdiscIsNotError(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{fail: map[string]error{
		"tc qdisc del": errors.New("exit status 2: Error: Cannot delete qdisc with handle of zero."),
	}}
	m := NewManager(rr, nil)
	if err := m.Clear(context.Background(), "eth0"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	rr.fail["tc qdisc del"] = errors.New("exit status 1: Cannot find device \"eth9\"")
	if err := m.Clear(context.Background(), "eth9"); err == nil {
		t.Fatalf("expected error for missing device")
	}
}

func TestAddArgs_OmitsOptionalClauses(t *testing.T) {
	t.Parallel()

	got := strings.Join(AddArgs("lo", model.LinkProfile{LatencyMs: 250}), " ")
	if got != "qdisc add dev lo root netem delay 250ms loss 0%" {
		t.Fatalf("args=%q", got)
	}
}

func TestHasNetem(t *testing.T) {
	t.Parallel()

	if HasNetem("qdisc fq_codel 0: root refcnt 2 limit 10240p") {
		t.Fatalf("fq_codel detected as netem")
	}
	if !HasNetem("qdisc netem 8001: root refcnt 2 limit 1000 delay 600ms") {
		t.Fatalf("netem not detected")
	}
}

func TestParseStats(t *testing.T) {
	t.Parallel()

	out := `qdisc netem 8001: root refcnt 2 limit 1000 delay 600ms  50ms loss 1.5% rate 10Mbit
 Sent 12345 bytes 67 pkt (dropped 3, overlimits 4 requeues 5)
 backlog 1514b 1p requeues 5
qdisc fq_codel 0: parent :1 limit 10240p
 Sent 999 bytes 9 pkt (dropped 9, overlimits 9 requeues 9)`

	st := ParseStats(out)
	if !st.Present {
		t.Fatalf("not present")
	}
	if st.SentBytes != 12345 || st.SentPackets != 67 {
		t.Fatalf("sent=%d/%d", st.SentBytes, st.SentPackets)
	}
	if st.Dropped != 3 || st.Overlimits != 4 || st.Requeues != 5 {
		t.Fatalf("counters=%+v", st)
	}
	if st.BacklogBytes != 1514 {
		t.Fatalf("backlog=%d", st.BacklogBytes)
	}
}
