package protocol

// Token selects a command family. Case is significant: uppercase tokens carry
// binary payloads, everything else is line-oriented text.
type Token byte

const (
	TokenSkill        Token = 'K'
	TokenAbsoluteSet  Token = 'L'
	TokenIndexedSet   Token = 'I'
	TokenIndexedSmall Token = 'i'
	TokenMelody       Token = 'B'
	TokenProbe        Token = '?'
	TokenDisconnect   Token = 'd'
	TokenPause        Token = 'p'
	TokenRest         Token = 'k'
	TokenCalibrate    Token = 'c'
	TokenMove         Token = 'm'
)

const (
	TerminatorBinary byte = '~'
	TerminatorText   byte = '\n'

	// MelodyDurationFactor scales each duration of a melody pair.
	MelodyDurationFactor = 8
)

// verboseTokens are multi-word text commands sent space-joined.
const verboseTokens = "cmi but"

// triggerTokens pass their first argument through verbatim.
const triggerTokens = "wkX"

func (t Token) String() string {
	return string(rune(t))
}

func (t Token) IsUpper() bool {
	return t >= 'A' && t <= 'Z'
}

// Unsigned reports whether the token packs its payload into unsigned bytes.
func (t Token) Unsigned() bool {
	return t == 'W' || t == 'C'
}

// LongRunning tokens get a larger initial echo budget.
func (t Token) LongRunning() bool {
	return t == TokenRest || t == TokenSkill
}

// Positional tokens update joint angles and expect a fast echo.
func (t Token) Positional() bool {
	return t == TokenAbsoluteSet || t == TokenIndexedSet
}

func (t Token) verbose() bool {
	return containsToken(verboseTokens, t)
}

func (t Token) trigger() bool {
	return containsToken(triggerTokens, t)
}

func containsToken(set string, t Token) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == byte(t) {
			return true
		}
	}
	return false
}
