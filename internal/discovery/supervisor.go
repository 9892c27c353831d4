package discovery

import (
	"context"
	"sync"
)

// Supervisor keeps at most one running replug watch.
type Supervisor struct {
	d    *Discoverer
	opts WatchOptions

	mu    sync.Mutex
	watch *Watch
}

func NewSupervisor(d *Discoverer, opts WatchOptions) *Supervisor {
	return &Supervisor{d: d, opts: opts}
}

// Start begins a watch against the current device list. A watch that is
// still polling is returned as is, with started false.
func (s *Supervisor) Start(ctx context.Context) (*Watch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch != nil && s.watch.Active() {
		return s.watch, false, nil
	}
	w, err := s.d.StartReplugWatch(ctx, Snapshot{}, s.opts)
	if err != nil {
		return nil, false, err
	}
	s.watch = w
	return w, true, nil
}

// Current returns the most recent watch, or nil.
func (s *Supervisor) Current() *Watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watch
}
