// Package protocol owns the firmware command contract.
//
// Ownership boundary:
// - token families and their wire encodings
// - Command values and derived sub-commands
// - frame encode/decode primitives
//
// Every frame is token byte, payload, terminator. Binary payloads end in '~',
// text payloads end in '\n'. Byte layout is firmware-defined and must not drift.
package protocol
