package controller

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/bittyctl/internal/config"
	"github.com/danmuck/bittyctl/internal/discovery"
	"github.com/danmuck/bittyctl/internal/protocol"
	"github.com/danmuck/bittyctl/internal/testutil/fakeport"
	"github.com/danmuck/bittyctl/internal/testutil/testlog"
	"github.com/danmuck/bittyctl/internal/transport"
)

func TestParseConsoleLine(t *testing.T) {
	testlog.Start(t)
	delay := time.Second
	cases := []struct {
		line string
		name string
		ints []int
		args []string
	}{
		{line: "kbalance", name: "kbalance", args: []string{"kbalance"}},
		{line: "  d  ", name: "d", args: []string{"d"}},
		{line: "m 30", name: "m", args: []string{"m", "30"}},
		{line: "m 0 30", name: "m", ints: []int{0, 30}},
		{line: "i 0 30 8 -45", name: "i", ints: []int{0, 30, 8, -45}},
		{line: "I0 30 8", name: "I", ints: []int{0, 30, 8}},
	}
	for _, tc := range cases {
		cmd, err := ParseConsoleLine(tc.line, delay)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.line, err)
		}
		if cmd.Name != tc.name || !reflect.DeepEqual(cmd.Ints, tc.ints) || !reflect.DeepEqual(cmd.Args, tc.args) || cmd.Delay != delay {
			t.Fatalf("parse %q: got %+v", tc.line, cmd)
		}
	}

	if _, err := ParseConsoleLine("quit", delay); !errors.Is(err, ErrQuit) {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
	if _, err := ParseConsoleLine("   ", delay); !errors.Is(err, ErrEmptyLine) {
		t.Fatalf("expected ErrEmptyLine, got %v", err)
	}
	if _, err := ParseConsoleLine("L 1 x", delay); !errors.Is(err, protocol.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}

type machine struct {
	mu    sync.Mutex
	names []string
	ports map[string]*fakeport.Port
}

func newMachine(names ...string) *machine {
	return &machine{names: names, ports: make(map[string]*fakeport.Port)}
}

func (m *machine) port(name string) *fakeport.Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ports[name]
	if !ok {
		p = fakeport.NewEcho(name)
		m.ports[name] = p
	}
	return p
}

func (m *machine) open(name string) (transport.Transport, error) {
	return m.port(name), nil
}

func (m *machine) Ports() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...), nil
}

func newTestService(m *machine) *Service {
	cfg := DefaultServiceConfig()
	cfg.Session.Unit = 10 * time.Millisecond
	cfg.HeartbeatInterval = 5 * time.Millisecond
	cfg.DeviceDir = ""
	return NewServiceWithTransport(cfg, config.DefaultDeviceConfig(), m.open, m)
}

func TestBootstrapAdmitsValidatedLinks(t *testing.T) {
	testlog.Start(t)
	m := newMachine("/dev/cu.wchusbserial1410", "/dev/cu.usbserial-1410", "/dev/ttyUSB0")
	s := newTestService(m)

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	names := s.Dispatcher().Registry().Names()
	if !reflect.DeepEqual(names, []string{"/dev/cu.usbserial-1410", "/dev/ttyUSB0"}) {
		t.Fatalf("unexpected registry: %v", names)
	}
	if s.Replug().Current() != nil {
		t.Fatalf("replug should not start when a link was admitted")
	}
}

func TestBootstrapStartsReplugWhenEmpty(t *testing.T) {
	testlog.Start(t)
	m := newMachine()
	s := newTestService(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	w := s.Replug().Current()
	if w == nil {
		t.Fatalf("expected replug watch after empty discovery")
	}
	if st := w.State(); st != discovery.StateCounting && st != discovery.StateManualFallback {
		t.Fatalf("unexpected watch state: %s", st)
	}
}

func TestBootstrapRejectsHeartbeat(t *testing.T) {
	testlog.Start(t)
	s := newTestService(newMachine())
	s.cfg.HeartbeatInterval = 0
	if err := s.Bootstrap(context.Background()); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
}

func TestRunContextConsoleSessionAndShutdown(t *testing.T) {
	testlog.Start(t)
	m := newMachine("/dev/ttyUSB0")
	s := newTestService(m)
	var out bytes.Buffer
	s.SetConsoleIO(strings.NewReader("kbalance\nL 1 x\nq\n"), &out)

	done := make(chan error, 1)
	go func() {
		done <- s.RunContext(context.Background())
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop on quit")
	}

	text := out.String()
	if !strings.Contains(text, "ttyUSB0: k ok") || !strings.Contains(text, "not an integer") {
		t.Fatalf("unexpected console output: %q", text)
	}
	frames := m.port("/dev/ttyUSB0").Frames()
	if len(frames) != 3 || string(frames[0]) != "?\n" || string(frames[1]) != "kbalance\n" || string(frames[2]) != "d\n" {
		t.Fatalf("unexpected frames: %q", frames)
	}
	if s.Dispatcher().Registry().Len() != 0 || m.port("/dev/ttyUSB0").IsOpen() {
		t.Fatalf("shutdown must close every link")
	}
}
