// Package link tracks open, validated robot links.
package link

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/bittyctl/internal/transport"
)

var ErrNilLink = errors.New("link: nil link or transport")

// Link is one admitted transport. The mutex serializes complete
// request/response exchanges on the transport.
type Link struct {
	Name        string
	DisplayName string

	transport transport.Transport

	mu            sync.Mutex
	stateMu       sync.RWMutex
	lastKnownGood time.Time
}

func New(name string, t transport.Transport) *Link {
	return &Link{
		Name:        name,
		DisplayName: filepath.Base(name),
		transport:   t,
	}
}

func (l *Link) Transport() transport.Transport {
	return l.transport
}

// Lock acquires exclusive use of the link for one exchange.
func (l *Link) Lock() {
	l.mu.Lock()
}

func (l *Link) Unlock() {
	l.mu.Unlock()
}

// Touch records a successful exchange.
func (l *Link) Touch(at time.Time) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.lastKnownGood = at
}

func (l *Link) LastKnownGood() time.Time {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.lastKnownGood
}

func (l *Link) String() string {
	if l == nil {
		return "<nil>"
	}
	return l.DisplayName
}

// Registry is the set of open, validated links. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	items map[*Link]struct{}
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[*Link]struct{})}
}

// Admit adds l. A previously admitted link with the same name is removed and
// returned so the caller can close it.
func (r *Registry) Admit(l *Link) (*Link, error) {
	if l == nil || l.transport == nil {
		return nil, ErrNilLink
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale *Link
	for existing := range r.items {
		if existing != l && existing.Name == l.Name {
			stale = existing
			delete(r.items, existing)
			break
		}
	}
	r.items[l] = struct{}{}
	return stale, nil
}

// Evict removes l and reports whether it was present.
func (r *Registry) Evict(l *Link) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[l]; !ok {
		return false
	}
	delete(r.items, l)
	return true
}

func (r *Registry) Contains(l *Link) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[l]
	return ok
}

// Lookup finds an admitted link by candidate name.
func (r *Registry) Lookup(name string) (*Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for l := range r.items {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// Snapshot returns the admitted links ordered by name.
func (r *Registry) Snapshot() []*Link {
	r.mu.RLock()
	out := make([]*Link, 0, len(r.items))
	for l := range r.items {
		out = append(out, l)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) Names() []string {
	links := r.Snapshot()
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.Name
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Drain removes and returns every admitted link.
func (r *Registry) Drain() []*Link {
	links := r.Snapshot()
	r.mu.Lock()
	for _, l := range links {
		delete(r.items, l)
	}
	r.mu.Unlock()
	return links
}
