package session

import (
	"time"

	"github.com/danmuck/bittyctl/internal/protocol/frame"
)

// EchoBudget is the escalating soft deadline schedule, in time units.
type EchoBudget struct {
	Initial     float64
	LongRunning float64
	Extension   float64
	Ceiling     float64
}

// Config defines link timing. Every budget is expressed in time units so the
// whole schedule scales with Unit.
type Config struct {
	Unit         time.Duration
	PollInterval time.Duration
	Echo         EchoBudget

	PositionalTimeout float64
	CorrectionSpacing float64
	DisconnectTimeout float64

	ValidationGrace float64
	BootGrace       float64
	ProbeWindow     float64
	BootProbeWindow float64
	DiscoveryJoin   float64

	// ValidationDeadline bounds a discovery batch's validations. Candidates
	// still validating when DiscoveryJoin expires keep running until then.
	ValidationDeadline float64

	ReplugCountdown float64
	ReplugPoll      float64
	ReplugSettle    float64

	Frame frame.Limits
}

// DefaultConfig returns firmware-aligned defaults; one unit is one second.
func DefaultConfig() Config {
	return Config{
		Unit:         time.Second,
		PollInterval: time.Millisecond,
		Echo: EchoBudget{
			Initial:     3,
			LongRunning: 4,
			Extension:   2,
			Ceiling:     5,
		},
		PositionalTimeout:  1,
		CorrectionSpacing:  0.01,
		DisconnectTimeout:  1,
		ValidationGrace:    3,
		BootGrace:          2,
		ProbeWindow:        2,
		BootProbeWindow:    3,
		DiscoveryJoin:      8,
		ValidationDeadline: 12,
		ReplugCountdown:    10,
		ReplugPoll:         0.1,
		ReplugSettle:       0.5,
		Frame:              frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Unit <= 0 {
		c.Unit = def.Unit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Echo.Initial <= 0 {
		c.Echo.Initial = def.Echo.Initial
	}
	if c.Echo.LongRunning <= 0 {
		c.Echo.LongRunning = def.Echo.LongRunning
	}
	if c.Echo.Extension <= 0 {
		c.Echo.Extension = def.Echo.Extension
	}
	if c.Echo.Ceiling <= 0 {
		c.Echo.Ceiling = def.Echo.Ceiling
	}
	fill := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&c.PositionalTimeout, def.PositionalTimeout)
	fill(&c.CorrectionSpacing, def.CorrectionSpacing)
	fill(&c.DisconnectTimeout, def.DisconnectTimeout)
	fill(&c.ValidationGrace, def.ValidationGrace)
	fill(&c.BootGrace, def.BootGrace)
	fill(&c.ProbeWindow, def.ProbeWindow)
	fill(&c.BootProbeWindow, def.BootProbeWindow)
	fill(&c.DiscoveryJoin, def.DiscoveryJoin)
	fill(&c.ValidationDeadline, def.ValidationDeadline)
	fill(&c.ReplugCountdown, def.ReplugCountdown)
	fill(&c.ReplugPoll, def.ReplugPoll)
	fill(&c.ReplugSettle, def.ReplugSettle)
	if c.Frame.ChunkSize <= 0 {
		c.Frame.ChunkSize = def.Frame.ChunkSize
	}
	if c.Frame.ChunkDelay <= 0 {
		c.Frame.ChunkDelay = def.Frame.ChunkDelay
	}
	if c.Frame.MaxFrameBytes <= 0 {
		c.Frame.MaxFrameBytes = def.Frame.MaxFrameBytes
	}
	return c
}

// Units converts a unit count to a duration.
func (c Config) Units(n float64) time.Duration {
	return time.Duration(n * float64(c.Unit))
}
