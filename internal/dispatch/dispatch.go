// Package dispatch sends commands to admitted links and keeps the registry
// honest: a link whose transport fails is evicted immediately.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/bittyctl/internal/link"
	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/observability"
	"github.com/danmuck/bittyctl/internal/profile"
	"github.com/danmuck/bittyctl/internal/protocol"
	"github.com/danmuck/bittyctl/internal/protocol/frame"
	"github.com/danmuck/bittyctl/internal/protocol/session"
)

var (
	ErrTransport        = errors.New("dispatch: transport failure")
	ErrNoLinksAvailable = errors.New("dispatch: no links available")
)

// Dispatcher owns command delivery for one registry.
type Dispatcher struct {
	registry *link.Registry
	profile  profile.Profile
	cfg      session.Config
}

func New(registry *link.Registry, p profile.Profile, cfg session.Config) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		profile:  p,
		cfg:      cfg.WithDefaults(),
	}
}

func (d *Dispatcher) Registry() *link.Registry {
	return d.registry
}

func (d *Dispatcher) Profile() profile.Profile {
	return d.profile
}

func (d *Dispatcher) Config() session.Config {
	return d.cfg
}

// SendTask performs one exchange on l: drain stale input, encode, write,
// await the echo, then sleep the command's trailing delay. Any transport
// failure evicts l and returns an error wrapping ErrTransport. Encoding errors
// and response timeouts leave l admitted.
func (d *Dispatcher) SendTask(ctx context.Context, l *link.Link, cmd protocol.Command) (session.Echo, error) {
	if l == nil || l.Transport() == nil {
		return session.Echo{}, link.ErrNilLink
	}
	tok := cmd.Token()

	l.Lock()
	defer l.Unlock()
	t := l.Transport()

	stale, err := t.ReadAll()
	if err != nil {
		return session.Echo{}, d.fail(l, tok, "drain", err)
	}
	if len(stale) > 0 {
		logging.Debugf("dispatch.Dispatcher.SendTask link=%q drained=%q", l.DisplayName, stale)
	}

	f, err := protocol.Encode(d.profile, cmd)
	if err != nil {
		observability.RecordCommand(tok.String(), "encoding", 0)
		return session.Echo{}, err
	}
	if err := frame.WriteChunked(ctx, t, f, d.cfg.Frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			observability.RecordCommand(tok.String(), "canceled", 0)
			return session.Echo{}, ctxErr
		}
		return session.Echo{}, d.fail(l, tok, "write", err)
	}

	hard := cmd.Timeout
	if tok.Positional() {
		hard = d.cfg.Units(d.cfg.PositionalTimeout)
	}
	echo, err := session.AwaitEcho(ctx, t, tok, hard, d.cfg)
	switch {
	case err == nil:
		l.Touch(time.Now())
		observability.RecordCommand(tok.String(), "ok", echo.Elapsed)
		logging.Debugf("dispatch.Dispatcher.SendTask link=%q cmd=%q echo=%q elapsed=%s", l.DisplayName, cmd.String(), echo.Line, echo.Elapsed)
	case errors.Is(err, session.ErrResponseTimeout):
		observability.RecordCommand(tok.String(), "timeout", 0)
		logging.Warnf("dispatch.Dispatcher.SendTask link=%q cmd=%q no echo: %v", l.DisplayName, cmd.String(), err)
	case ctx.Err() != nil:
		observability.RecordCommand(tok.String(), "canceled", 0)
		return echo, err
	default:
		return echo, d.fail(l, tok, "read", err)
	}

	if werr := sleep(ctx, cmd.Delay); werr != nil && err == nil {
		err = werr
	}
	return echo, err
}

// fail evicts l after an I/O error and returns the wrapped error.
func (d *Dispatcher) fail(l *link.Link, tok protocol.Token, op string, cause error) error {
	observability.RecordCommand(tok.String(), "transport", 0)
	logging.Errf("dispatch.Dispatcher link=%q op=%s evicting: %v", l.DisplayName, op, cause)
	d.Evict(l, op)
	return fmt.Errorf("%w: link=%s op=%s: %v", ErrTransport, l.DisplayName, op, cause)
}

// Evict removes l from the registry and closes its transport.
func (d *Dispatcher) Evict(l *link.Link, reason string) {
	if d.registry.Evict(l) {
		observability.RecordEviction(reason)
	}
	observability.SetActiveLinks(d.registry.Len())
	if err := l.Transport().Close(); err != nil {
		logging.Debugf("dispatch.Dispatcher.Evict link=%q close: %v", l.DisplayName, err)
	}
}

// SplitForRangeOverflow rewrites positional commands whose angles do not fit
// the lane. The absolute set is clamped and followed by a small-indexed
// correction carrying the original values; an indexed set is redirected to
// the small-indexed token. cmd is never modified.
func (d *Dispatcher) SplitForRangeOverflow(cmd protocol.Command) []protocol.Command {
	tok := cmd.Token()
	if cmd.Kind() != protocol.PayloadInts || !tok.Positional() || len(cmd.Ints) <= 2 {
		return []protocol.Command{cmd.Clone()}
	}

	switch tok {
	case protocol.TokenAbsoluteSet:
		primary := cmd.Clone()
		var pairs []int
		for _, idx := range byGroupPosition(len(primary.Ints)) {
			v := primary.Ints[idx]
			if clamped := clampLane(v); clamped != v {
				primary.Ints[idx] = clamped
				pairs = append(pairs, idx, v)
			}
		}
		if len(pairs) == 0 {
			return []protocol.Command{primary}
		}
		primary.Delay = d.cfg.Units(d.cfg.CorrectionSpacing)
		correction := protocol.IntCommand(protocol.TokenIndexedSmall, pairs, cmd.Delay)
		return []protocol.Command{primary, correction}

	default:
		redirected := cmd.Clone()
		for i := 1; i < len(redirected.Ints); i += 2 {
			if clampLane(redirected.Ints[i]) != redirected.Ints[i] {
				redirected.Name = protocol.TokenIndexedSmall.String()
				break
			}
		}
		return []protocol.Command{redirected}
	}
}

// jointGroups is the number of joints per body group in the absolute set.
const jointGroups = 4

// byGroupPosition orders joint indexes by position within a group first, so the
// correction lists the same joint of every group together (0, 4, 8, 12, 1, ...).
func byGroupPosition(n int) []int {
	order := make([]int, 0, n)
	for col := 0; col < jointGroups; col++ {
		for idx := col; idx < n; idx += jointGroups {
			order = append(order, idx)
		}
	}
	return order
}

func clampLane(v int) int {
	return max(-profile.LaneLimit, min(profile.LaneLimit, v))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Outcome is the result of one sub-command on one link.
type Outcome struct {
	Link    *link.Link
	Command protocol.Command
	Echo    session.Echo
	Err     error
}

// Result collects outcomes in completion order.
type Result struct {
	Outcomes []Outcome
}

// Last returns the most recently completed outcome.
func (r Result) Last() (Outcome, bool) {
	if len(r.Outcomes) == 0 {
		return Outcome{}, false
	}
	return r.Outcomes[len(r.Outcomes)-1], true
}

func (r Result) Succeeded() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Err == nil })
}

func (r Result) Failed() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Err != nil })
}

func (r Result) filter(keep func(Outcome) bool) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Send splits cmd and delivers each sub-command to links, concurrently when
// there is more than one. ctx is consulted only between sub-commands; a send
// in flight always runs to its own timeout. Links evicted by an earlier
// sub-command are skipped.
func (d *Dispatcher) Send(ctx context.Context, links []*link.Link, cmd protocol.Command) (Result, error) {
	if len(links) == 0 {
		return Result{}, ErrNoLinksAvailable
	}
	subs := d.SplitForRangeOverflow(cmd)
	inflight := context.WithoutCancel(ctx)

	var (
		mu     sync.Mutex
		result Result
	)
	record := func(o Outcome) {
		mu.Lock()
		result.Outcomes = append(result.Outcomes, o)
		mu.Unlock()
	}

	for i, sub := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		targets := links
		if i > 0 {
			targets = live(links, result)
			if len(targets) == 0 {
				logging.Warnf("dispatch.Dispatcher.Send cmd=%q remaining=%d no live links", sub.String(), len(subs)-i)
				return result, nil
			}
		}

		if len(targets) == 1 {
			echo, err := d.SendTask(inflight, targets[0], sub)
			record(Outcome{Link: targets[0], Command: sub, Echo: echo, Err: err})
			continue
		}

		var wg sync.WaitGroup
		for _, l := range targets {
			wg.Add(1)
			go func(l *link.Link) {
				defer wg.Done()
				echo, err := d.SendTask(inflight, l, sub)
				record(Outcome{Link: l, Command: sub, Echo: echo, Err: err})
			}(l)
		}
		wg.Wait()
	}
	return result, nil
}

// SendAll sends cmd to every admitted link.
func (d *Dispatcher) SendAll(ctx context.Context, cmd protocol.Command) (Result, error) {
	return d.Send(ctx, d.registry.Snapshot(), cmd)
}

// CloseAll sends the disconnect command to links (every admitted link when
// links is nil), then closes and evicts each of them.
func (d *Dispatcher) CloseAll(ctx context.Context, links []*link.Link) Result {
	if links == nil {
		links = d.registry.Snapshot()
	}
	if len(links) == 0 {
		return Result{}
	}
	bye := protocol.BareCommand(protocol.TokenDisconnect.String(), 0)
	bye.Timeout = d.cfg.Units(d.cfg.DisconnectTimeout)
	result, err := d.Send(ctx, links, bye)
	if err != nil {
		logging.Warnf("dispatch.Dispatcher.CloseAll disconnect: %v", err)
	}
	for _, l := range links {
		d.Evict(l, "close")
	}
	logging.Infof("dispatch.Dispatcher.CloseAll closed=%d", len(links))
	return result
}

// live drops links whose transport failed during an earlier sub-command.
func live(links []*link.Link, prior Result) []*link.Link {
	failed := make(map[*link.Link]bool)
	for _, o := range prior.Outcomes {
		if errors.Is(o.Err, ErrTransport) {
			failed[o.Link] = true
		}
	}
	out := make([]*link.Link, 0, len(links))
	for _, l := range links {
		if !failed[l] && l.Transport().IsOpen() {
			out = append(out, l)
		}
	}
	return out
}
