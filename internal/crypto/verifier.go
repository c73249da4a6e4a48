package crypto

import "encoding/hex"

// Verifier derives a value both sides can compare out of band to confirm
// they share the same key.
func Verifier(key []byte) []byte {
	return DeriveKey(key, "wormhole:verifier", KeyBytes)
}

// VerifierString formats a verifier for display: the first 16 bytes in hex,
// grouped by four.
func VerifierString(v []byte) string {
	if len(v) > 16 {
		v = v[:16]
	}
	h := hex.EncodeToString(v)
	out := make([]byte, 0, len(h)+len(h)/8)
	for i := 0; i < len(h); i += 8 {
		if i > 0 {
			out = append(out, ' ')
		}
		end := i + 8
		if end > len(h) {
			end = len(h)
		}
		out = append(out, h[i:end]...)
	}
	return string(out)
}
