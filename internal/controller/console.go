package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/bittyctl/internal/dispatch"
	"github.com/danmuck/bittyctl/internal/protocol"
)

var (
	ErrEmptyLine = errors.New("controller: empty console line")
	ErrQuit      = errors.New("controller: quit requested")
)

// ParseConsoleLine turns one operator line into a command. The first byte is
// the token. A line with at most one argument after it is sent as a string
// command; longer lines are integer payloads. Both carry delay.
func ParseConsoleLine(line string, delay time.Duration) (protocol.Command, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return protocol.Command{}, ErrEmptyLine
	case "q", "quit":
		return protocol.Command{}, ErrQuit
	}

	tok := protocol.Token(line[0])
	rest := strings.Fields(line[1:])
	if len(rest) <= 1 {
		return protocol.ArgCommand(strings.Fields(line), delay), nil
	}

	values := make([]int, 0, len(rest))
	for _, raw := range rest {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return protocol.Command{}, fmt.Errorf("%w: %s argument %q is not an integer", protocol.ErrEncoding, tok, raw)
		}
		values = append(values, v)
	}
	return protocol.IntCommand(tok, values, delay), nil
}

// RunConsole reads commands from in until EOF, quit, or ctx ends, sending
// each to every admitted link and reporting to out.
func (s *Service) RunConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	delay := s.dispatcher.Config().Units(1)
	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			cmd, err := ParseConsoleLine(line, delay)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case errors.Is(err, ErrEmptyLine):
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			default:
				res, err := s.Exec(ctx, cmd)
				report(out, res, err)
			}
			fmt.Fprint(out, "> ")
		}
	}
}

// Exec sends cmd to every admitted link.
func (s *Service) Exec(ctx context.Context, cmd protocol.Command) (dispatch.Result, error) {
	return s.dispatcher.SendAll(ctx, cmd)
}

func report(out io.Writer, res dispatch.Result, err error) {
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	for _, o := range res.Outcomes {
		for _, line := range o.Echo.Output {
			fmt.Fprintf(out, "%s: %s\n", o.Link.DisplayName, line)
		}
		if o.Err != nil {
			fmt.Fprintf(out, "%s: %s failed: %v\n", o.Link.DisplayName, o.Command.String(), o.Err)
			continue
		}
		fmt.Fprintf(out, "%s: %s ok (%s)\n", o.Link.DisplayName, o.Echo.Line, o.Echo.Elapsed.Round(time.Millisecond))
	}
}

// RunOnce discovers links, sends one console line to all of them, and
// disconnects.
func (s *Service) RunOnce(ctx context.Context, line string) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}
	defer s.shutdown()

	cmd, err := ParseConsoleLine(line, s.dispatcher.Config().Units(1))
	if err != nil {
		return err
	}
	res, err := s.Exec(ctx, cmd)
	report(s.out, res, err)
	if err != nil {
		return err
	}
	if last, ok := res.Last(); ok && last.Err != nil {
		return last.Err
	}
	return nil
}
