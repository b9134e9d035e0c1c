package netem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"

	"satsim/internal/execx"
	"satsim/internal/model"
)

// ErrShapingApply is returned when tc refuses to install the impairment.
var ErrShapingApply = errors.New("apply shaping")

// Shaper is the traffic-shaping mechanism the emulator drives.
type Shaper interface {
	Apply(ctx context.Context, iface string, p model.LinkProfile) error
	Clear(ctx context.Context, iface string) error
	Show(ctx context.Context, iface string) (string, error)
	Stats(ctx context.Context, iface string) (QdiscStats, error)
}

// Manager executes tc commands. It is injectable for unit tests.
type Manager struct {
	r      execx.Runner
	logger log.Interface
}

var _ Shaper = (*Manager)(nil)

func NewManager(r execx.Runner, logger log.Interface) *Manager {
	if r == nil {
		r = execx.NewOSRunner(os.Stdout, os.Stderr)
	}
	if logger == nil {
		logger = log.Log
	}
	return &Manager{r: r, logger: logger}
}

// Apply replaces the root qdisc of iface with a netem qdisc for p.
func (m *Manager) Apply(ctx context.Context, iface string, p model.LinkProfile) error {
	if iface == "" {
		return fmt.Errorf("%w: interface is required", ErrShapingApply)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrShapingApply, err)
	}

	// A missing root qdisc is the normal first-run case.
	if err := m.run(ctx, "tc", "qdisc", "del", "dev", iface, "root"); err != nil {
		m.logger.WithField("iface", iface).Debugf("no previous qdisc removed: %v", err)
	}

	args := AddArgs(iface, p)
	m.logger.WithField("iface", iface).Infof("applying traffic control: %s", execx.CommandLine("tc", args...))
	if err := m.run(ctx, "tc", args...); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrShapingApply, execx.CommandLine("tc", args...), err)
	}
	return nil
}

// Clear removes the root qdisc of iface. A missing qdisc is not an error.
func (m *Manager) Clear(ctx context.Context, iface string) error {
	if iface == "" {
		return fmt.Errorf("interface is required")
	}
	err := m.run(ctx, "tc", "qdisc", "del", "dev", iface, "root")
	if err == nil || isNoQdisc(err) {
		return nil
	}
	return err
}

// Show returns the qdisc configuration of iface.
func (m *Manager) Show(ctx context.Context, iface string) (string, error) {
	if iface == "" {
		return "", fmt.Errorf("interface is required")
	}
	return m.output(ctx, "tc", "qdisc", "show", "dev", iface)
}

// Stats returns the counters of the netem qdisc on iface.
func (m *Manager) Stats(ctx context.Context, iface string) (QdiscStats, error) {
	if iface == "" {
		return QdiscStats{}, fmt.Errorf("interface is required")
	}
	out, err := m.output(ctx, "tc", "-s", "qdisc", "show", "dev", iface)
	if err != nil {
		return QdiscStats{}, err
	}
	return ParseStats(out), nil
}

// HasNetem reports whether tc output contains a netem qdisc.
func HasNetem(show string) bool {
	for _, line := range strings.Split(show, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "qdisc" && fields[1] == "netem" {
			return true
		}
	}
	return false
}

func isNoQdisc(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Cannot delete qdisc with handle of zero") ||
		strings.Contains(msg, "No such file or directory") ||
		strings.Contains(msg, "Invalid handle")
}

func (m *Manager) run(ctx context.Context, name string, args ...string) error {
	if m == nil || m.r == nil {
		return fmt.Errorf("runner not initialized")
	}
	return m.r.Run(ctx, name, args...)
}

func (m *Manager) output(ctx context.Context, name string, args ...string) (string, error) {
	if m == nil || m.r == nil {
		return "", fmt.Errorf("runner not initialized")
	}
	return m.r.Output(ctx, name, args...)
}
