package transport

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig configures serial links.
type SerialConfig struct {
	BaudRate    int
	ReadTimeout time.Duration
	// MaxDrain bounds one ReadAll call.
	MaxDrain int
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    115200,
		ReadTimeout: 20 * time.Millisecond,
		MaxDrain:    64 * 1024,
	}
}

func (c SerialConfig) WithDefaults() SerialConfig {
	def := DefaultSerialConfig()
	if c.BaudRate <= 0 {
		c.BaudRate = def.BaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.MaxDrain <= 0 {
		c.MaxDrain = def.MaxDrain
	}
	return c
}

// SerialPort is a Transport over a go.bug.st/serial port.
type SerialPort struct {
	name string
	cfg  SerialConfig

	mu      sync.Mutex
	port    serial.Port
	open    bool
	pending []byte
	buf     []byte
}

// SerialOpener returns an Opener for 8N1 serial links.
func SerialOpener(cfg SerialConfig) Opener {
	cfg = cfg.WithDefaults()
	return func(name string) (Transport, error) {
		return OpenSerial(name, cfg)
	}
}

func OpenSerial(name string, cfg SerialConfig) (*SerialPort, error) {
	cfg = cfg.WithDefaults()
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("transport: set read timeout %s: %w", name, err)
	}
	return &SerialPort{
		name: name,
		cfg:  cfg,
		port: p,
		open: true,
		buf:  make([]byte, 256),
	}, nil
}

func (s *SerialPort) Name() string {
	return s.name
}

func (s *SerialPort) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *SerialPort) ReadLine() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrClosed
	}
	if line := s.takeLine(); line != nil {
		return line, nil
	}
	n, err := s.port.Read(s.buf)
	if err != nil {
		return nil, fmt.Errorf("transport: read %s: %w", s.name, err)
	}
	s.pending = append(s.pending, s.buf[:n]...)
	return s.takeLine(), nil
}

func (s *SerialPort) ReadAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrClosed
	}
	out := s.pending
	s.pending = nil
	for len(out) < s.cfg.MaxDrain {
		n, err := s.port.Read(s.buf)
		if err != nil {
			return out, fmt.Errorf("transport: drain %s: %w", s.name, err)
		}
		if n == 0 {
			break
		}
		out = append(out, s.buf[:n]...)
	}
	return out, nil
}

func (s *SerialPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, ErrClosed
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("transport: write %s: %w", s.name, err)
	}
	return n, nil
}

func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.pending = nil
	return s.port.Close()
}

func (s *SerialPort) takeLine() []byte {
	idx := bytes.IndexByte(s.pending, '\n')
	if idx < 0 {
		return nil
	}
	line := append([]byte(nil), s.pending[:idx+1]...)
	s.pending = s.pending[idx+1:]
	return line
}
