package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/observability"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingUnplug
	StateCounting
	StateResolved
	StateManualFallback
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUnplug:
		return "awaiting_unplug"
	case StateCounting:
		return "counting"
	case StateResolved:
		return "resolved"
	case StateManualFallback:
		return "manual_fallback"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WatchOptions tunes a replug watch.
type WatchOptions struct {
	// Expected is the number of new device names that counts as a replug.
	Expected int
	// Validate probes replugged candidates before admitting them.
	Validate bool
	// Wake, when set, triggers an immediate poll.
	Wake <-chan struct{}
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{Expected: 1, Validate: true}
}

// Watch is one running replug recovery.
//
// The watch starts Counting against its baseline. A shrinking device list is
// the expected unplug: the baseline is reset and the countdown restarts in
// AwaitingUnplug. A list that grows by at least Expected names is a replug:
// the new names are canonicalized and discovered, and any admission resolves
// the watch. When the countdown elapses, or a replug admits nothing, the
// watch hands off to ManualFallback.
type Watch struct {
	d    *Discoverer
	opts WatchOptions

	mu       sync.RWMutex
	state    State
	baseline Snapshot
	started  time.Time
	admitted []string

	done     chan struct{}
	doneOnce sync.Once
}

// StartReplugWatch begins polling in the background. A zero baseline is
// captured now.
func (d *Discoverer) StartReplugWatch(ctx context.Context, baseline Snapshot, opts WatchOptions) (*Watch, error) {
	if opts.Expected <= 0 {
		opts.Expected = 1
	}
	if baseline.At.IsZero() {
		snap, err := d.Capture()
		if err != nil {
			return nil, err
		}
		baseline = snap
	}
	w := &Watch{
		d:        d,
		opts:     opts,
		state:    StateIdle,
		baseline: baseline,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	logging.Infof("discovery.Watch.start baseline=%v countdown=%.0f units", baseline.Names, d.cfg.ReplugCountdown)
	w.setState(StateCounting)
	go w.run(ctx)
	return w, nil
}

func (w *Watch) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Active reports whether the watch is still polling.
func (w *Watch) Active() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done is closed once the poll loop exits.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

func (w *Watch) Admitted() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.admitted...)
}

func (w *Watch) Baseline() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.baseline
}

// ManualCandidates returns the live canonical device list for an operator.
func (w *Watch) ManualCandidates() ([]string, error) {
	snap, err := w.d.Capture()
	if err != nil {
		return nil, err
	}
	return w.d.rules.Canonicalize(snap.Names), nil
}

// SubmitManualSelection validates an operator-chosen name and admits it.
// It reports whether the candidate was admitted.
func (w *Watch) SubmitManualSelection(ctx context.Context, name string) (bool, error) {
	if w.State() != StateManualFallback {
		return false, ErrNotManual
	}
	if len(w.d.rules.Canonicalize([]string{name})) == 0 {
		logging.Warnf("discovery.Watch.SubmitManualSelection name=%q discarded by rules", name)
		return false, nil
	}
	delta, err := w.d.Discover(ctx, []string{name}, w.opts.Validate)
	if err != nil {
		return false, err
	}
	if len(delta.Admitted) == 0 && len(delta.Skipped) == 0 {
		return false, nil
	}
	w.resolve(append(delta.Admitted, delta.Skipped...))
	return true, nil
}

func (w *Watch) run(ctx context.Context) {
	defer w.finish()
	cfg := w.d.cfg
	poll := time.NewTicker(cfg.Units(cfg.ReplugPoll))
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			w.setState(StateStopped)
			return
		case <-poll.C:
		case <-w.opts.Wake:
		}

		if w.step(ctx) {
			return
		}
	}
}

// step runs one poll and reports whether the watch reached a terminal state.
func (w *Watch) step(ctx context.Context) bool {
	cfg := w.d.cfg
	w.mu.RLock()
	baseline := w.baseline
	started := w.started
	w.mu.RUnlock()

	if time.Since(started) > cfg.Units(cfg.ReplugCountdown) {
		logging.Warnf("discovery.Watch countdown elapsed, manual selection required")
		w.setState(StateManualFallback)
		return true
	}

	current, err := w.d.Capture()
	if err != nil {
		logging.Warnf("discovery.Watch capture: %v", err)
		return false
	}
	if current.Len() == baseline.Len() {
		return false
	}

	if err := wait(ctx, cfg.Units(cfg.ReplugSettle)); err != nil {
		return false
	}
	current, err = w.d.Capture()
	if err != nil {
		logging.Warnf("discovery.Watch capture: %v", err)
		return false
	}

	switch {
	case current.Len() < baseline.Len():
		logging.Infof("discovery.Watch unplug observed count=%d baseline=%d", current.Len(), baseline.Len())
		w.mu.Lock()
		w.baseline = current
		w.started = time.Now()
		w.mu.Unlock()
		w.setState(StateAwaitingUnplug)
		return false

	case current.Len()-baseline.Len() < w.opts.Expected:
		return false
	}

	added := difference(current.Names, baseline.Names)
	logging.Infof("discovery.Watch replug observed added=%v", added)
	delta, err := w.d.Discover(ctx, added, w.opts.Validate)
	if err != nil {
		logging.Warnf("discovery.Watch discover: %v", err)
	}
	if len(delta.Admitted) > 0 {
		w.resolve(delta.Admitted)
		return true
	}
	logging.Warnf("discovery.Watch replugged device did not validate, manual selection required")
	w.setState(StateManualFallback)
	return true
}

func (w *Watch) resolve(names []string) {
	w.mu.Lock()
	w.admitted = append(w.admitted, names...)
	w.mu.Unlock()
	w.setState(StateResolved)
}

func (w *Watch) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		observability.RecordReplugState(s.String())
		logging.Debugf("discovery.Watch state %s -> %s", prev, s)
	}
}

func (w *Watch) finish() {
	w.doneOnce.Do(func() { close(w.done) })
}

func difference(current, baseline []string) []string {
	known := make(map[string]bool, len(baseline))
	for _, name := range baseline {
		known[name] = true
	}
	var out []string
	for _, name := range current {
		if !known[name] {
			out = append(out, name)
		}
	}
	return out
}
