package helpers

import "encoding/hex"

// HexPreview returns hex of first n bytes, with ".." suffix if b was longer.
func HexPreview(b []byte, n int) string {
	if n < 0 {
		n = 0
	}
	if len(b) <= n {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:n]) + ".."
}
