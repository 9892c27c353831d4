package protocol

// Frame is the exact byte sequence written to a link, terminator included.
type Frame []byte

func (f Frame) Token() Token {
	if len(f) == 0 {
		return 0
	}
	return Token(f[0])
}

// Binary reports whether the frame uses the binary '~' terminator.
func (f Frame) Binary() bool {
	return len(f) > 0 && f[len(f)-1] == TerminatorBinary
}

func (f Frame) String() string {
	return string(f)
}
