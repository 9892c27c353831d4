// Package fakeport is a scripted in-memory transport for tests.
//
// Written bytes are reassembled into frames: frames led by a binary token
// (K, L, I, B, W, C) end at '~', all others end at '\n'. A Responder may queue reply lines for
// each completed frame.
package fakeport

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

const binaryTokens = "KLIBWC"

var ErrInjected = errors.New("fakeport: injected failure")

// Responder returns the lines a device would print after receiving frame.
type Responder func(frame []byte) []string

// Echo replies with the frame's token, as firmware does.
func Echo(frame []byte) []string {
	if len(frame) == 0 {
		return nil
	}
	return []string{string(frame[:1])}
}

type Port struct {
	name string

	mu         sync.Mutex
	open       bool
	inbox      []byte
	partial    []byte
	writes     int
	frames     [][]byte
	frameTimes []time.Time
	responder  Responder
	writeErr   error
	readErr    error
	closeCount int
}

func New(name string) *Port {
	return &Port{name: name, open: true}
}

// NewEcho returns a port that acknowledges every frame.
func NewEcho(name string) *Port {
	p := New(name)
	p.responder = Echo
	return p
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Port) ReadLine() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return nil, p.readErr
	}
	idx := bytes.IndexByte(p.inbox, '\n')
	if idx < 0 {
		return nil, nil
	}
	line := append([]byte(nil), p.inbox[:idx+1]...)
	p.inbox = p.inbox[idx+1:]
	return line, nil
}

func (p *Port) ReadAll() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return nil, p.readErr
	}
	out := p.inbox
	p.inbox = nil
	return out, nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if !p.open {
		return 0, errors.New("fakeport: closed")
	}
	p.writes++
	for _, c := range b {
		p.partial = append(p.partial, c)
		if !frameDone(p.partial) {
			continue
		}
		f := p.partial
		p.partial = nil
		p.frames = append(p.frames, f)
		p.frameTimes = append(p.frameTimes, time.Now())
		if p.responder != nil {
			for _, line := range p.responder(f) {
				p.inbox = append(p.inbox, line+"\r\n"...)
			}
		}
	}
	return len(b), nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.closeCount++
	return nil
}

// Feed queues device output lines, each terminated by "\r\n".
func (p *Port) Feed(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range lines {
		p.inbox = append(p.inbox, line+"\r\n"...)
	}
}

// FeedRaw queues raw device output bytes.
func (p *Port) FeedRaw(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbox = append(p.inbox, b...)
}

func (p *Port) SetResponder(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = r
}

// FailWrites makes every later Write fail.
func (p *Port) FailWrites() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = ErrInjected
}

// FailReads makes every later read fail.
func (p *Port) FailReads() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = ErrInjected
}

func (p *Port) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	for i, f := range p.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

func (p *Port) FrameTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.frameTimes...)
}

// WriteCalls counts Write invocations, i.e. transmitted slices.
func (p *Port) WriteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *Port) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

func frameDone(partial []byte) bool {
	last := partial[len(partial)-1]
	if strings.IndexByte(binaryTokens, partial[0]) >= 0 {
		return len(partial) > 1 && last == '~'
	}
	return last == '\n'
}
