package protocol

import (
	"fmt"
	"strings"
	"time"
)

// PayloadKind is the shape of a Command payload.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadInts
	PayloadArgs
)

// Command is one firmware instruction. Args, when set, include the command
// word as their first element.
type Command struct {
	Name    string
	Ints    []int
	Args    []string
	Delay   time.Duration
	Timeout time.Duration
}

func IntCommand(tok Token, values []int, delay time.Duration) Command {
	return Command{Name: tok.String(), Ints: append([]int(nil), values...), Delay: delay}
}

func ArgCommand(args []string, delay time.Duration) Command {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	return Command{Name: name, Args: append([]string(nil), args...), Delay: delay}
}

func BareCommand(name string, delay time.Duration) Command {
	return Command{Name: name, Delay: delay}
}

// Token returns the command's first byte, or 0 for an empty command.
func (c Command) Token() Token {
	if c.Name == "" {
		return 0
	}
	return Token(c.Name[0])
}

func (c Command) Kind() PayloadKind {
	switch {
	case len(c.Ints) > 0:
		return PayloadInts
	case len(c.Args) > 0:
		return PayloadArgs
	default:
		return PayloadNone
	}
}

// Clone returns a copy that shares no slices with c.
func (c Command) Clone() Command {
	out := c
	if c.Ints != nil {
		out.Ints = append([]int(nil), c.Ints...)
	}
	if c.Args != nil {
		out.Args = append([]string(nil), c.Args...)
	}
	return out
}

func (c Command) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCommand
	}
	if len(c.Ints) > 0 && len(c.Args) > 0 {
		return fmt.Errorf("%w: command %q has both numeric and string payloads", ErrEncoding, c.Name)
	}
	return nil
}

func (c Command) String() string {
	switch c.Kind() {
	case PayloadInts:
		return fmt.Sprintf("%s%v", c.Name, c.Ints)
	case PayloadArgs:
		return strings.Join(c.Args, " ")
	default:
		return c.Name
	}
}
