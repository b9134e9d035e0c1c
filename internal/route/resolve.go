package route

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"satsim/internal/execx"
)

// DefaultProbeAddr is the external address used to pick the outbound path.
// No packet is sent: connecting a UDP socket only selects a route.
const DefaultProbeAddr = "8.8.8.8:80"

// ErrInterfaceResolution is returned when no interface name can be determined.
var ErrInterfaceResolution = errors.New("interface resolution")

// Resolver maps the outbound path to an interface name.
type Resolver struct {
	r         execx.Runner
	probeAddr string
	localAddr func(ctx context.Context, remote string) (netip.Addr, error)
}

func NewResolver(r execx.Runner) *Resolver {
	if r == nil {
		r = execx.NewOSRunner(os.Stdout, os.Stderr)
	}
	return &Resolver{r: r, probeAddr: DefaultProbeAddr, localAddr: udpLocalAddr}
}

// Resolve returns explicit when set, otherwise the interface carrying the
// local address used to reach the probe address.
func (res *Resolver) Resolve(ctx context.Context, explicit string) (string, error) {
	if iface := strings.TrimSpace(explicit); iface != "" {
		return iface, nil
	}

	local, err := res.localAddr(ctx, res.probeAddr)
	if err != nil {
		return "", fmt.Errorf("%w: route to %s: %v", ErrInterfaceResolution, res.probeAddr, err)
	}
	out, err := res.r.Output(ctx, "ip", "-o", "-4", "addr", "show")
	if err != nil {
		return "", fmt.Errorf("%w: ip addr show: %v", ErrInterfaceResolution, err)
	}
	iface, ok := InterfaceForAddr(out, local)
	if !ok {
		return "", fmt.Errorf("%w: no interface owns %s", ErrInterfaceResolution, local)
	}
	return iface, nil
}

// InterfaceForAddr scans `ip -o -4 addr show` output for the interface that
// owns addr.
//
//	2: eth0    inet 10.0.0.5/24 brd 10.0.0.255 scope global eth0\       valid_lft forever preferred_lft forever
func InterfaceForAddr(out string, addr netip.Addr) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] != "inet" && fields[i] != "inet6" {
				continue
			}
			prefix, err := netip.ParsePrefix(fields[i+1])
			if err != nil {
				continue
			}
			if prefix.Addr() == addr && len(fields) >= 2 {
				return strings.TrimSuffix(fields[1], ":"), true
			}
		}
	}
	return "", false
}

func udpLocalAddr(ctx context.Context, remote string) (netip.Addr, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", remote)
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	addr, ok := netip.AddrFromSlice(udp.IP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("invalid local address %v", udp.IP)
	}
	return addr.Unmap(), nil
}
