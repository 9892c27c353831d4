// Package discovery finds robot links among OS-visible devices and recovers
// from replug events.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/bittyctl/internal/dispatch"
	"github.com/danmuck/bittyctl/internal/link"
	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/observability"
	"github.com/danmuck/bittyctl/internal/protocol"
	"github.com/danmuck/bittyctl/internal/protocol/session"
	"github.com/danmuck/bittyctl/internal/transport"
)

var (
	ErrValidation = errors.New("discovery: candidate failed validation")
	ErrNotManual  = errors.New("discovery: watch is not awaiting a manual selection")
)

// Delta reports what one discovery pass did. Pending candidates were still
// validating when the batch join expired; they may be admitted later.
type Delta struct {
	Admitted []string
	Rejected []string
	Unopened []string
	Skipped  []string
	Pending  []string
}

func (d Delta) Empty() bool {
	return len(d.Admitted) == 0
}

// Snapshot is the OS-visible device list at one instant.
type Snapshot struct {
	Names []string
	At    time.Time
}

func (s Snapshot) Len() int {
	return len(s.Names)
}

// Discoverer validates candidates and admits them through the dispatcher's
// registry.
type Discoverer struct {
	dispatcher *dispatch.Dispatcher
	opener     transport.Opener
	enumerator transport.Enumerator
	rules      RuleTable
	cfg        session.Config
}

func New(d *dispatch.Dispatcher, opener transport.Opener, enumerator transport.Enumerator, rules RuleTable) *Discoverer {
	return &Discoverer{
		dispatcher: d,
		opener:     opener,
		enumerator: enumerator,
		rules:      rules,
		cfg:        d.Config(),
	}
}

func (d *Discoverer) Rules() RuleTable {
	return d.rules
}

// Capture reads the current OS device list.
func (d *Discoverer) Capture() (Snapshot, error) {
	names, err := d.enumerator.Ports()
	if err != nil {
		return Snapshot{At: time.Now()}, err
	}
	uniq := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := uniq[name]; ok || name == "" {
			continue
		}
		uniq[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return Snapshot{Names: out, At: time.Now()}, nil
}

// DiscoverSystem runs Discover over every device the OS currently exposes.
func (d *Discoverer) DiscoverSystem(ctx context.Context, validate bool) (Delta, error) {
	snap, err := d.Capture()
	if err != nil {
		return Delta{}, err
	}
	return d.Discover(ctx, snap.Names, validate)
}

// Discover canonicalizes names, opens each new candidate and admits it,
// probing first when validate is set. Validations run concurrently; the pass
// waits at most DiscoveryJoin units for them. Validations share one deadline of
// ValidationDeadline units that is independent of ctx cancellation, so a
// candidate reported as pending is still admitted if it answers in time.
func (d *Discoverer) Discover(ctx context.Context, names []string, validate bool) (Delta, error) {
	var (
		mu    sync.Mutex
		delta Delta
		wg    sync.WaitGroup
	)
	candidates := d.rules.Canonicalize(names)
	logging.Infof("discovery.Discoverer.Discover candidates=%v validate=%t", candidates, validate)

	batchCtx, cancelBatch := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Units(d.cfg.ValidationDeadline))
	pending := make(map[string]bool)
	for _, name := range candidates {
		if _, ok := d.dispatcher.Registry().Lookup(name); ok {
			delta.Skipped = append(delta.Skipped, name)
			continue
		}
		t, err := d.opener(name)
		if err != nil {
			logging.Warnf("discovery.Discoverer.Discover name=%q open failed: %v", name, err)
			delta.Unopened = append(delta.Unopened, name)
			continue
		}
		if !validate {
			d.admit(name, t)
			delta.Admitted = append(delta.Admitted, name)
			continue
		}

		mu.Lock()
		pending[name] = true
		mu.Unlock()
		wg.Add(1)
		go func(name string, t transport.Transport) {
			defer wg.Done()
			err := d.validateOpened(batchCtx, name, t)
			mu.Lock()
			defer mu.Unlock()
			delete(pending, name)
			if err != nil {
				delta.Rejected = append(delta.Rejected, name)
				return
			}
			delta.Admitted = append(delta.Admitted, name)
		}(name, t)
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		cancelBatch()
		close(joined)
	}()
	join := time.NewTimer(d.cfg.Units(d.cfg.DiscoveryJoin))
	defer join.Stop()
	var err error
	select {
	case <-joined:
	case <-join.C:
		logging.Warnf("discovery.Discoverer.Discover join expired after %.0f units", d.cfg.DiscoveryJoin)
	case <-ctx.Done():
		err = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	for name := range pending {
		delta.Pending = append(delta.Pending, name)
	}
	out := Delta{
		Admitted: sortedCopy(delta.Admitted),
		Rejected: sortedCopy(delta.Rejected),
		Unopened: sortedCopy(delta.Unopened),
		Skipped:  sortedCopy(delta.Skipped),
		Pending:  sortedCopy(delta.Pending),
	}
	observability.SetActiveLinks(d.dispatcher.Registry().Len())
	logging.Infof("discovery.Discoverer.Discover admitted=%v rejected=%v unopened=%v pending=%v", out.Admitted, out.Rejected, out.Unopened, out.Pending)
	return out, err
}

// Validate opens name and admits it if it answers the probe.
func (d *Discoverer) Validate(ctx context.Context, name string) error {
	t, err := d.opener(name)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrValidation, name, err)
	}
	return d.validateOpened(ctx, name, t)
}

// validateOpened waits out boot chatter, probes t and admits it on an echo.
// t is closed on every failure path.
func (d *Discoverer) validateOpened(ctx context.Context, name string, t transport.Transport) error {
	reject := func(reason string, cause error) error {
		// A probe I/O failure has already closed t through eviction.
		if t.IsOpen() {
			_ = t.Close()
		}
		observability.RecordValidation(reason)
		logging.Warnf("discovery.Discoverer.validate name=%q rejected reason=%s: %v", name, reason, cause)
		return fmt.Errorf("%w: %s: %s: %v", ErrValidation, name, reason, cause)
	}

	if err := wait(ctx, d.cfg.Units(d.cfg.ValidationGrace)); err != nil {
		return reject("canceled", err)
	}
	chatter, err := t.ReadAll()
	if err != nil {
		return reject("drain", err)
	}
	window := d.cfg.ProbeWindow
	if len(chatter) > 0 {
		logging.Infof("discovery.Discoverer.validate name=%q waiting for boot chatter=%d bytes", name, len(chatter))
		if err := wait(ctx, d.cfg.Units(d.cfg.BootGrace)); err != nil {
			return reject("canceled", err)
		}
		window = d.cfg.BootProbeWindow
	}

	probe := protocol.BareCommand(protocol.TokenProbe.String(), 0)
	probe.Timeout = d.cfg.Units(window)
	if _, err := d.dispatcher.SendTask(ctx, link.New(name, t), probe); err != nil {
		return reject("probe", err)
	}
	d.admit(name, t)
	observability.RecordValidation("admitted")
	return nil
}

func (d *Discoverer) admit(name string, t transport.Transport) {
	l := link.New(name, t)
	l.Touch(time.Now())
	stale, err := d.dispatcher.Registry().Admit(l)
	if err != nil {
		logging.Errf("discovery.Discoverer.admit name=%q: %v", name, err)
		return
	}
	if stale != nil {
		logging.Infof("discovery.Discoverer.admit name=%q replacing stale link", name)
		_ = stale.Transport().Close()
	}
	observability.SetActiveLinks(d.dispatcher.Registry().Len())
	logging.Infof("discovery.Discoverer.admit name=%q display=%q", name, l.DisplayName)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
