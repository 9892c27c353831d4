package protocol

import "errors"

var (
	ErrEncoding     = errors.New("protocol: malformed payload")
	ErrEmptyCommand = errors.New("protocol: empty command")
	ErrShortFrame   = errors.New("protocol: short frame")
	ErrTerminator   = errors.New("protocol: unknown frame terminator")
)
