package transport

import (
	"golang.org/x/text/encoding/charmap"
)

// DecodeLatin1 maps every byte to one rune. Firmware emits arbitrary bytes
// while booting, so response lines are never decoded as UTF-8.
func DecodeLatin1(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// ISO-8859-1 has a mapping for every byte value.
		runes := make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
		return string(runes)
	}
	return string(out)
}
