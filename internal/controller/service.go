// Package controller runs the bittyctl process: initial discovery, replug
// recovery when nothing answers, the optional control surface and console,
// and an orderly disconnect on shutdown.
package controller

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/bittyctl/internal/config"
	"github.com/danmuck/bittyctl/internal/control"
	"github.com/danmuck/bittyctl/internal/discovery"
	"github.com/danmuck/bittyctl/internal/dispatch"
	"github.com/danmuck/bittyctl/internal/link"
	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/observability"
	"github.com/danmuck/bittyctl/internal/protocol/session"
	"github.com/danmuck/bittyctl/internal/transport"
)

var ErrInvalidHeartbeatInterval = errors.New("controller: invalid heartbeat interval")

// ServiceConfig configures one bittyctl process.
type ServiceConfig struct {
	// Ports, when set, replaces OS enumeration for the initial discovery.
	Ports             []string
	Validate          bool
	ReplugOnEmpty     bool
	HeartbeatInterval time.Duration
	Session           session.Config
	Serial            transport.SerialConfig
	ControlAddr       string
	ControlToken      string
	CorsOrigins       []string
	Console           bool
	// DeviceDir is watched for device nodes to speed up replug detection.
	DeviceDir string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Validate:          true,
		ReplugOnEmpty:     true,
		HeartbeatInterval: 10 * time.Second,
		Session:           session.DefaultConfig(),
		Serial:            transport.DefaultSerialConfig(),
		ControlAddr:       "",
		Console:           true,
		DeviceDir:         transport.DefaultDeviceDir(),
	}
}

// Service owns the registry and everything that feeds or drains it.
type Service struct {
	cfg        ServiceConfig
	device     config.DeviceConfig
	dispatcher *dispatch.Dispatcher
	discoverer *discovery.Discoverer
	replug     *discovery.Supervisor
	watcher    *transport.DeviceWatcher

	in  io.Reader
	out io.Writer
}

// NewSerialService wires the service to real serial ports.
func NewSerialService(cfg ServiceConfig, device config.DeviceConfig) *Service {
	cfg.Serial.BaudRate = device.BaudRate
	return NewServiceWithTransport(cfg, device, transport.SerialOpener(cfg.Serial), transport.SystemEnumerator{})
}

// NewServiceWithTransport wires the service to an arbitrary transport.
func NewServiceWithTransport(cfg ServiceConfig, device config.DeviceConfig, opener transport.Opener, enumerator transport.Enumerator) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	d := dispatch.New(link.NewRegistry(), device.Profile(), cfg.Session)
	disc := discovery.New(d, opener, enumerator, device.RuleTable())
	s := &Service{
		cfg:        cfg,
		device:     device,
		dispatcher: d,
		discoverer: disc,
		in:         os.Stdin,
		out:        os.Stdout,
	}

	opts := discovery.DefaultWatchOptions()
	opts.Validate = cfg.Validate
	if strings.TrimSpace(cfg.DeviceDir) != "" {
		w, err := transport.NewDeviceWatcher(cfg.DeviceDir)
		if err != nil {
			logging.Warnf("controller.Service device watch disabled dir=%q err=%v", cfg.DeviceDir, err)
		} else {
			s.watcher = w
			opts.Wake = w.Wake()
		}
	}
	s.replug = discovery.NewSupervisor(disc, opts)
	return s
}

// SetConsoleIO replaces stdin/stdout for the console.
func (s *Service) SetConsoleIO(in io.Reader, out io.Writer) {
	s.in = in
	s.out = out
}

func (s *Service) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

func (s *Service) Discoverer() *discovery.Discoverer {
	return s.discoverer
}

func (s *Service) Replug() *discovery.Supervisor {
	return s.replug
}

// Run blocks until SIGINT/SIGTERM, console quit, or a fatal serve error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}
	return s.serve(ctx)
}

// Bootstrap runs the initial discovery pass and starts replug recovery when
// it admits nothing.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	observability.RegisterMetrics()

	var (
		delta discovery.Delta
		err   error
	)
	if len(s.cfg.Ports) > 0 {
		delta, err = s.discoverer.Discover(ctx, s.cfg.Ports, s.cfg.Validate)
	} else {
		delta, err = s.discoverer.DiscoverSystem(ctx, s.cfg.Validate)
	}
	if err != nil {
		logging.Warnf("controller.Service.bootstrap discovery err=%v", err)
	}

	links := s.dispatcher.Registry().Len()
	logging.Infof(
		"controller.Service.bootstrap ready model=%q joints=%d links=%d admitted=%v",
		s.device.Model,
		s.device.Joints,
		links,
		delta.Admitted,
	)
	if links == 0 && len(delta.Pending) == 0 && s.cfg.ReplugOnEmpty {
		logging.Warnf("controller.Service.bootstrap no robot answered; unplug and replug the device")
		if _, _, err := s.replug.Start(ctx); err != nil {
			logging.Warnf("controller.Service.bootstrap replug watch err=%v", err)
		}
	}
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.shutdown()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	controlErr := make(chan error, 1)
	consoleDone := make(chan error, 1)
	if strings.TrimSpace(s.cfg.ControlAddr) != "" {
		srv := control.New(control.Config{Addr: s.cfg.ControlAddr, CorsOrigins: s.cfg.CorsOrigins, Token: s.cfg.ControlToken}, s.dispatcher, s.discoverer, s.replug)
		go func() {
			controlErr <- srv.Serve(ctx)
		}()
	}
	if s.cfg.Console {
		go func() {
			consoleDone <- s.RunConsole(ctx, s.in, s.out)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			logging.Infof("controller.Service.serve shutdown")
			return nil
		case err := <-controlErr:
			if err != nil {
				return err
			}
		case err := <-consoleDone:
			logging.Infof("controller.Service.serve console closed")
			return err
		case <-ticker.C:
			replugState := "none"
			if w := s.replug.Current(); w != nil {
				replugState = w.State().String()
			}
			logging.Infof(
				"controller.Service.heartbeat links=%v replug=%s",
				s.dispatcher.Registry().Names(),
				replugState,
			)
		}
	}
}

// shutdown disconnects every link. It runs on a fresh context so the
// disconnect still goes out after cancellation.
func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.Units(s.cfg.Session.DisconnectTimeout+1))
	defer cancel()
	s.dispatcher.CloseAll(ctx, nil)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}
