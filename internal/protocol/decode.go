package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/bittyctl/internal/profile"
)

// Decoded is a frame split back into its parts.
type Decoded struct {
	Token  Token
	Binary bool
	// Values holds binary lane values, or the integers of a numeric text frame.
	Values []int
	// Text is the raw text payload without token and terminator.
	Text string
}

// Decode inverts a frame produced by EncodeInts or EncodeArgs. Melody
// durations are unscaled; skill payloads are returned as transmitted.
func Decode(f Frame) (Decoded, error) {
	if len(f) < 2 {
		return Decoded{}, ErrShortFrame
	}
	tok := Token(f[0])
	body := f[1 : len(f)-1]

	switch f[len(f)-1] {
	case TerminatorBinary:
		values := make([]int, len(body))
		for i, b := range body {
			if tok.Unsigned() {
				values[i] = int(b)
			} else {
				values[i] = int(int8(b))
			}
		}
		if tok == TokenMelody {
			for i := 1; i < len(values); i += 2 {
				values[i] /= MelodyDurationFactor
			}
		}
		return Decoded{Token: tok, Binary: true, Values: values}, nil

	case TerminatorText:
		out := Decoded{Token: tok, Text: string(body)}
		if values, ok := parseInts(out.Text); ok {
			out.Values = values
		}
		return out, nil

	default:
		return Decoded{}, ErrTerminator
	}
}

// DecodeSkill decodes a skill frame and undoes the scale flag: when the flag
// is set every angle slot is doubled.
func DecodeSkill(p profile.Profile, f Frame) ([]int, error) {
	d, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if d.Token != TokenSkill || !d.Binary {
		return nil, fmt.Errorf("%w: not a skill frame (token %q)", ErrEncoding, d.Token)
	}
	values := d.Values
	if len(values) <= skillScaleIndex || values[skillScaleIndex] != skillScaled {
		return values, nil
	}
	period := values[0]
	header := profile.SkillHeader(period)
	width := p.RowWidth(period)
	slots := min(p.ScaledSlots, width)
	for row := 0; row < abs(period); row++ {
		start := header + row*width
		for i := start; i < start+slots && i < len(values); i++ {
			values[i] *= 2
		}
	}
	return values, nil
}

func parseInts(text string) ([]int, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, false
	}
	out := make([]int, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
