package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/bittyctl/internal/profile"
)

const (
	skillScaleIndex = 3
	skillScaled     = 2
)

// Encode picks the numeric or string entry point from the command payload.
func Encode(p profile.Profile, cmd Command) (Frame, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	switch cmd.Kind() {
	case PayloadInts:
		return EncodeInts(p, cmd.Token(), cmd.Ints)
	case PayloadArgs:
		return EncodeArgs(p, cmd.Args)
	default:
		return EncodeArgs(p, []string{cmd.Name})
	}
}

// EncodeInts encodes a numeric payload for tok. values is never modified.
func EncodeInts(p profile.Profile, tok Token, values []int) (Frame, error) {
	msg := append([]int(nil), values...)

	if tok == TokenSkill {
		scaled, err := scaleSkill(p, msg)
		if err != nil {
			return nil, err
		}
		return packBinary(tok, scaled, false)
	}

	if !tok.IsUpper() {
		if err := checkIndexed(p, tok, msg); err != nil {
			return nil, err
		}
		return encodeText(tok, msg), nil
	}

	switch tok {
	case TokenAbsoluteSet:
		if len(msg) != p.Joints {
			return nil, fmt.Errorf("%w: %s expects %d angles, got %d", ErrEncoding, tok, p.Joints, len(msg))
		}
	case TokenIndexedSet:
		if err := checkIndexed(p, tok, msg); err != nil {
			return nil, err
		}
	case TokenMelody:
		if len(msg)%2 != 0 {
			return nil, fmt.Errorf("%w: %s expects (tone,duration) pairs, got %d values", ErrEncoding, tok, len(msg))
		}
		for i := 1; i < len(msg); i += 2 {
			msg[i] *= MelodyDurationFactor
		}
	}
	return packBinary(tok, msg, tok.Unsigned())
}

// EncodeArgs encodes a string payload. args[0] is the command word.
func EncodeArgs(p profile.Profile, args []string) (Frame, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, ErrEmptyCommand
	}
	tok := Token(args[0][0])

	switch {
	case tok.verbose() && len(args) >= 2:
		return Frame(strings.Join(args, " ") + "\n"), nil

	case tok == TokenAbsoluteSet || tok == TokenIndexedSet:
		rest := make([]string, 0, len(args))
		if len(args[0]) > 1 {
			rest = append(rest, args[0][1:])
		}
		rest = append(rest, args[1:]...)
		values := make([]int, 0, len(rest))
		for _, raw := range rest {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("%w: %s argument %q is not an integer", ErrEncoding, tok, raw)
			}
			values = append(values, v)
		}
		return packBinary(tok, values, false)

	case tok.trigger():
		return Frame(args[0] + "\n"), nil

	default:
		return Frame([]byte{byte(tok), TerminatorText}), nil
	}
}

// scaleSkill applies the skill scale flag. The first row with an angle beyond
// the lane limit halves the angle slots of every row.
func scaleSkill(p profile.Profile, msg []int) ([]int, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: %s requires a period", ErrEncoding, TokenSkill)
	}
	period := msg[0]
	if period == 0 {
		return nil, fmt.Errorf("%w: %s period must be non-zero", ErrEncoding, TokenSkill)
	}
	header := profile.SkillHeader(period)
	width := p.RowWidth(period)
	rows := abs(period)
	if want := header + rows*width; len(msg) != want {
		return nil, fmt.Errorf("%w: %s period=%d expects %d values, got %d", ErrEncoding, TokenSkill, period, want, len(msg))
	}
	slots := min(p.ScaledSlots, width)

	overflow := false
	for row := 0; row < rows && !overflow; row++ {
		start := header + row*width
		for _, v := range msg[start : start+slots] {
			if v > profile.LaneLimit || v < -profile.LaneLimit {
				overflow = true
				break
			}
		}
	}
	if !overflow {
		return msg, nil
	}

	msg[skillScaleIndex] = skillScaled
	for row := 0; row < rows; row++ {
		start := header + row*width
		for i := start; i < start+slots; i++ {
			msg[i] = floorHalf(msg[i])
		}
	}
	return msg, nil
}

func checkIndexed(p profile.Profile, tok Token, msg []int) error {
	if tok != TokenIndexedSet && tok != TokenIndexedSmall {
		return nil
	}
	if len(msg)%2 != 0 {
		return fmt.Errorf("%w: %s expects (index,angle) pairs, got %d values", ErrEncoding, tok, len(msg))
	}
	for i := 0; i < len(msg); i += 2 {
		if !p.Enabled(msg[i]) {
			return fmt.Errorf("%w: %s joint %d not addressable on %s", ErrEncoding, tok, msg[i], p.Model)
		}
	}
	return nil
}

func packBinary(tok Token, values []int, unsigned bool) (Frame, error) {
	out := make([]byte, 0, len(values)+2)
	out = append(out, byte(tok))
	for i, v := range values {
		if unsigned {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: %s value[%d]=%d outside unsigned byte lane", ErrEncoding, tok, i, v)
			}
		} else if v < -128 || v > 127 {
			return nil, fmt.Errorf("%w: %s value[%d]=%d outside signed byte lane", ErrEncoding, tok, i, v)
		}
		out = append(out, byte(v))
	}
	out = append(out, TerminatorBinary)
	return Frame(out), nil
}

func encodeText(tok Token, values []int) Frame {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return Frame(tok.String() + strings.Join(parts, " ") + "\n")
}

func floorHalf(v int) int {
	if v < 0 && v%2 != 0 {
		return v/2 - 1
	}
	return v / 2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
