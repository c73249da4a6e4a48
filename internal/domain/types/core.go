package types

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
)

// AppID namespaces unrelated applications sharing one mailbox server.
type AppID string

// String returns the string form of the application identifier.
func (a AppID) String() string { return string(a) }

// Side is the random per-connection identifier a client picks so it can tell
// its own relayed messages from its peer's. It is bookkeeping, not a credential.
type Side string

// String returns the string form of the side.
func (s Side) String() string { return string(s) }

// NewSide returns a fresh side: 5 random bytes, hex encoded.
func NewSide() (Side, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return Side(hex.EncodeToString(b[:])), nil
}

// Nameplate is the short numeric, human-typed half of a wormhole code.
type Nameplate string

// String returns the string form of the nameplate.
func (n Nameplate) String() string { return string(n) }

// Valid reports whether n is a non-empty run of ASCII digits.
func (n Nameplate) Valid() bool {
	if n == "" {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MailboxID is the opaque server-side identifier of a mailbox.
type MailboxID string

// String returns the string form of the mailbox identifier.
func (m MailboxID) String() string { return string(m) }

// Phase names one message from one side of a mailbox.
type Phase string

const (
	// PhasePake carries the SPAKE2 public value.
	PhasePake Phase = "pake"
	// PhaseVersion carries the encrypted key-confirmation payload.
	PhaseVersion Phase = "version"
)

// String returns the string form of the phase.
func (p Phase) String() string { return string(p) }

// NumericPhase returns the application phase with index n.
func NumericPhase(n uint64) Phase { return Phase(strconv.FormatUint(n, 10)) }

// Number returns the index of an application phase. ok is false for "pake",
// "version" and anything else that is not a plain decimal number.
func (p Phase) Number() (n uint64, ok bool) {
	if p == "" || (len(p) > 1 && p[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(string(p), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
