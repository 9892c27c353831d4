package transport

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DeviceWatcher signals when device nodes appear or disappear so pollers can
// re-enumerate early. Signals coalesce; a poller still owns the decision.
type DeviceWatcher struct {
	w    *fsnotify.Watcher
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// DefaultDeviceDir is where device nodes appear, or "" when the platform has
// no watchable device directory.
func DefaultDeviceDir() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "/dev"
}

func NewDeviceWatcher(dir string) (*DeviceWatcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("transport: no device directory to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("transport: new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("transport: watch %s: %w", dir, err)
	}
	d := &DeviceWatcher{
		w:    w,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.loop()
	return d, nil
}

// Wake yields after device nodes change. A nil watcher never wakes.
func (d *DeviceWatcher) Wake() <-chan struct{} {
	if d == nil {
		return nil
	}
	return d.wake
}

func (d *DeviceWatcher) Close() error {
	if d == nil {
		return nil
	}
	var err error
	d.once.Do(func() {
		close(d.done)
		err = d.w.Close()
	})
	return err
}

func (d *DeviceWatcher) loop() {
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			select {
			case d.wake <- struct{}{}:
			default:
			}
		case err, ok := <-d.w.Errors:
			if !ok {
				return
			}
			logging.Warnf("transport.DeviceWatcher.loop err=%v", err)
		}
	}
}
