package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/protocol"
	"github.com/danmuck/bittyctl/internal/transport"
)

var ErrResponseTimeout = errors.New("session: response timeout")

// LineReader is the read half of a transport.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// Echo is a matched acknowledgement and the unrelated lines seen before it.
type Echo struct {
	Line    string
	Output  []string
	Elapsed time.Duration
}

// AwaitEcho polls r until a line echoing expected arrives.
//
// The soft deadline starts at Echo.Initial units (Echo.LongRunning for
// long-running tokens) and extends by Echo.Extension each time it passes; the
// wait gives up once the extended deadline would exceed Echo.Ceiling. A hard
// timeout > 0 ends the wait as soon as it elapses.
func AwaitEcho(ctx context.Context, r LineReader, expected protocol.Token, hard time.Duration, cfg Config) (Echo, error) {
	cfg = cfg.WithDefaults()
	threshold := cfg.Echo.Initial
	if expected.LongRunning() {
		threshold = cfg.Echo.LongRunning
	}

	start := time.Now()
	var output []string
	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return Echo{Output: output, Elapsed: time.Since(start)}, ctx.Err()
		case <-poll.C:
		}

		raw, err := r.ReadLine()
		if err != nil {
			return Echo{Output: output, Elapsed: time.Since(start)}, err
		}
		if len(raw) > 0 {
			line := trimResponse(transport.DecodeLatin1(raw))
			logging.Debugf("session.AwaitEcho token=%s line=%q", expected, line)
			if matches(expected, line) {
				return Echo{Line: line, Output: output, Elapsed: time.Since(start)}, nil
			}
			output = append(output, line)
		}

		elapsed := time.Since(start)
		if elapsed > cfg.Units(threshold) {
			threshold += cfg.Echo.Extension
			if threshold > cfg.Echo.Ceiling {
				return Echo{Output: output, Elapsed: elapsed}, fmt.Errorf("%w: token=%s elapsed=%s", ErrResponseTimeout, expected, elapsed.Round(time.Millisecond))
			}
			logging.Debugf("session.AwaitEcho token=%s extended budget=%.2f units", expected, threshold)
		}
		if hard > 0 && elapsed > hard {
			return Echo{Output: output, Elapsed: elapsed}, fmt.Errorf("%w: token=%s hard=%s", ErrResponseTimeout, expected, hard)
		}
	}
}

// trimResponse drops the line terminator and anything after a carriage return.
func trimResponse(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.IndexByte(s, '\r'); i >= 0 {
		s = s[:i]
	}
	return s
}

// matches reports whether line acknowledges expected. A pause request is also
// acknowledged by the rest echo.
func matches(expected protocol.Token, line string) bool {
	if strings.EqualFold(line, expected.String()) {
		return true
	}
	return expected == protocol.TokenPause && line == protocol.TokenRest.String()
}
