package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"

	"satsim/internal/metrics"
	"satsim/internal/model"
	"satsim/internal/netem"
)

const (
	DefaultStatusInterval = 30 * time.Second
	DefaultRetryBackoff   = 5 * time.Second

	stopJoinTimeout = 2 * time.Second
	removeTimeout   = 10 * time.Second
)

type State int

const (
	Uninitialized State = iota
	InterfaceResolved
	ProfileApplied
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case InterfaceResolved:
		return "interface_resolved"
	case ProfileApplied:
		return "profile_applied"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InterfaceResolver picks the interface to shape.
type InterfaceResolver interface {
	Resolve(ctx context.Context, explicit string) (string, error)
}

type Options struct {
	Interface      string
	Profile        model.LinkProfile
	StatusInterval time.Duration
	RetryBackoff   time.Duration
	Dynamic        bool
	Scenarios      []model.Scenario
}

// Snapshot is a point-in-time copy of the emulator state.
type Snapshot struct {
	State     State
	Interface string
	Active    *model.LinkProfile
	Applied   bool
	Reapplies int
}

// Emulator keeps a link profile applied to one interface.
type Emulator struct {
	opts     Options
	shaper   netem.Shaper
	resolver InterfaceResolver
	logger   log.Interface
	exporter *metrics.Exporter

	// mu guards the fields below and serializes every shaping command.
	mu        sync.Mutex
	state     State
	iface     string
	active    *model.LinkProfile
	applied   bool
	reapplies int

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	done    chan struct{}
	errOnce sync.Once
	errMu   sync.Mutex
	err     error
}

func New(opts Options, shaper netem.Shaper, resolver InterfaceResolver, logger log.Interface, exporter *metrics.Exporter) *Emulator {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if logger == nil {
		logger = log.Log
	}
	return &Emulator{
		opts:     opts,
		shaper:   shaper,
		resolver: resolver,
		logger:   logger,
		exporter: exporter,
		done:     make(chan struct{}),
	}
}

// Start resolves the interface, applies the configured profile and launches
// the verification loop and, when enabled, the scenario loop. Any error is
// a startup failure.
func (e *Emulator) Start(ctx context.Context) error {
	iface, err := e.resolver.Resolve(ctx, e.opts.Interface)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.iface = iface
	e.state = InterfaceResolved
	e.mu.Unlock()
	e.logger.WithField("iface", iface).Info("using interface")

	if err := e.ApplyProfile(ctx, e.opts.Profile); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.verifyLoop(loopCtx)
	}()

	if e.opts.Dynamic {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scenarioLoop(loopCtx)
		}()
	}
	return nil
}

// Stop terminates the loops and removes shaping. It is safe to call more
// than once; only the first call does any work.
func (e *Emulator) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}

		joined := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(stopJoinTimeout):
			e.logger.Warnf("background loops did not stop within %s", stopJoinTimeout)
		}

		ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if err = e.RemoveProfile(ctx); err != nil {
			e.logger.WithField("iface", e.Interface()).WithError(err).Error("failed to remove shaping")
		}

		e.mu.Lock()
		e.state = Stopped
		e.mu.Unlock()
		e.logger.Info("emulator stopped")
	})
	return err
}

// Done is closed when a background loop hits a fatal error.
func (e *Emulator) Done() <-chan struct{} {
	return e.done
}

// Err returns the fatal error that closed Done, if any.
func (e *Emulator) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

func (e *Emulator) fail(err error) {
	e.errOnce.Do(func() {
		e.errMu.Lock()
		e.err = err
		e.errMu.Unlock()
		close(e.done)
	})
}

// ApplyProfile installs p on the resolved interface and records it as the
// profile to restore on self-healing.
func (e *Emulator) ApplyProfile(ctx context.Context, p model.LinkProfile) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.iface == "" {
		return fmt.Errorf("%w: interface not resolved", netem.ErrShapingApply)
	}
	start := time.Now()
	if err := e.shaper.Apply(ctx, e.iface, p); err != nil {
		e.applied = false
		e.logger.WithFields(log.Fields{
			"iface":   e.iface,
			"profile": p.String(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		}).WithError(err).Error("failed to apply shaping")
		return err
	}

	active := p
	e.active = &active
	e.applied = true
	if e.state == InterfaceResolved {
		e.state = ProfileApplied
	}
	e.exporter.SetProfile(p)
	e.logger.WithFields(log.Fields{"iface": e.iface, "profile": p.String()}).Info("shaping applied")
	return nil
}

// RemoveProfile clears shaping from the interface and forgets the active
// profile. Calling it when nothing is applied is a no-op.
func (e *Emulator) RemoveProfile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.iface == "" || (!e.applied && e.active == nil) {
		e.applied = false
		return nil
	}
	if err := e.shaper.Clear(ctx, e.iface); err != nil {
		return err
	}
	e.applied = false
	e.active = nil
	e.exporter.ClearProfile()
	e.logger.WithField("iface", e.iface).Info("shaping removed")
	return nil
}

// VerifyApplied reports whether the netem qdisc is present on the interface.
// When it is missing, the last applied profile is installed again.
func (e *Emulator) VerifyApplied(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.iface == "" {
		return false, errors.New("interface not resolved")
	}
	out, err := e.shaper.Show(ctx, e.iface)
	if err != nil {
		return false, fmt.Errorf("query qdisc on %s: %w", e.iface, err)
	}
	if netem.HasNetem(out) {
		e.applied = true
		return true, nil
	}

	e.applied = false
	if e.active == nil {
		return false, nil
	}
	logger := e.logger.WithFields(log.Fields{"iface": e.iface, "profile": e.active.String()})
	logger.Warn("shaping missing, reapplying")
	if err := e.shaper.Apply(ctx, e.iface, *e.active); err != nil {
		return false, err
	}
	e.applied = true
	e.reapplies++
	e.exporter.IncReapply()
	logger.WithField("reapplies", e.reapplies).Info("shaping restored")
	return false, nil
}

// Snapshot returns the current state.
func (e *Emulator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		State:     e.state,
		Interface: e.iface,
		Applied:   e.applied,
		Reapplies: e.reapplies,
	}
	if e.active != nil {
		p := *e.active
		s.Active = &p
	}
	return s
}

// Interface returns the resolved interface name.
func (e *Emulator) Interface() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iface
}

func (e *Emulator) verifyLoop(ctx context.Context) {
	wait := e.opts.StatusInterval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := e.VerifyApplied(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.WithField("retry_in", e.opts.RetryBackoff).WithError(err).Error("shaping verification failed")
			wait = e.opts.RetryBackoff
			continue
		}
		wait = e.opts.StatusInterval
		e.logStats(ctx)
	}
}

func (e *Emulator) logStats(ctx context.Context) {
	e.mu.Lock()
	iface := e.iface
	st, err := e.shaper.Stats(ctx, iface)
	e.mu.Unlock()
	if err != nil {
		e.logger.WithField("iface", iface).WithError(err).Debug("qdisc statistics unavailable")
		return
	}
	e.exporter.SetQdiscStats(st)
	e.logger.WithFields(log.Fields{
		"iface":        iface,
		"sent_bytes":   st.SentBytes,
		"sent_packets": st.SentPackets,
		"dropped":      st.Dropped,
		"overlimits":   st.Overlimits,
		"requeues":     st.Requeues,
	}).Debug("qdisc statistics")
}

func (e *Emulator) scenarioLoop(ctx context.Context) {
	scenarios := e.opts.Scenarios
	if len(scenarios) == 0 {
		e.logger.Warn("dynamic conditions enabled but no scenarios configured")
		return
	}

	for i := 0; ; i = (i + 1) % len(scenarios) {
		sc := scenarios[i]
		if err := e.ApplyProfile(ctx, sc.Profile); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.fail(fmt.Errorf("scenario %q: %w", sc.Name, err))
			return
		}
		e.exporter.IncScenario(sc.Name)
		e.logger.WithFields(log.Fields{
			"scenario": sc.Name,
			"hold":     sc.Duration,
		}).Info("scenario active")

		timer := time.NewTimer(sc.Duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
