package crypto

import (
	"bytes"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyBytes is the size of every symmetric key this package derives.
const KeyBytes = 32

// DeriveKey expands secret into n bytes with HKDF-SHA256. The info label is
// the domain separator: distinct purposes must use distinct labels.
func DeriveKey(secret []byte, info string, n int) []byte {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		// Only reachable when n exceeds 255 hash lengths.
		panic(err)
	}
	return out
}

// SessionKey derives the wormhole key from the PAKE secret, bound to the
// nameplate and to both public PAKE values. The two values are ordered
// bytewise so both sides compute the same label.
func SessionKey(secret []byte, nameplate string, a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	np := sha256.Sum256([]byte(nameplate))
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	info := "wormhole:session:" + string(np[:]) + string(ha[:]) + string(hb[:])
	return DeriveKey(secret, info, KeyBytes)
}

// PhaseKey derives the key one side uses to seal one phase.
func PhaseKey(key []byte, side, phase string) []byte {
	sideSha := sha256.Sum256([]byte(side))
	phaseSha := sha256.Sum256([]byte(phase))
	purpose := "wormhole:phase:" + string(sideSha[:]) + string(phaseSha[:])
	return DeriveKey(key, purpose, KeyBytes)
}
