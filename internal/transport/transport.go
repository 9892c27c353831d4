// Package transport supplies byte-stream links to robot firmware and the OS
// view of which links exist.
package transport

import "errors"

var (
	ErrClosed   = errors.New("transport: closed")
	ErrNotFound = errors.New("transport: no such device")
)

// Transport is one open bidirectional byte stream.
//
// ReadLine returns one complete line including its terminator, or nil when no
// complete line arrived within the transport's poll window. ReadAll returns
// whatever is buffered without waiting for a line.
type Transport interface {
	Name() string
	IsOpen() bool
	ReadLine() ([]byte, error)
	ReadAll() ([]byte, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens a transport by candidate device name.
type Opener func(name string) (Transport, error)

// Enumerator lists the device names the OS currently exposes.
type Enumerator interface {
	Ports() ([]string, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func() ([]string, error)

func (f EnumeratorFunc) Ports() ([]string, error) {
	return f()
}
