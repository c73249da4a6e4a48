package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers a dropped connection or a frame the transport could
	// not deliver.
	ErrTransport = errors.New("transport error")

	// ErrProtocol is a message that is malformed, unknown, or invalid for the
	// current state.
	ErrProtocol = errors.New("protocol error")

	// ErrCrowded is returned when a third side tries to join a nameplate or
	// mailbox that already has two. Callers may retry with another nameplate.
	ErrCrowded = errors.New("crowded")

	// ErrCrypto matches every cryptographic failure. Wrong codes and tampered
	// messages are deliberately indistinguishable below this error.
	ErrCrypto = errors.New("crypto error")

	// ErrWrongPassword: the key exchange or key confirmation failed.
	ErrWrongPassword error = &cryptoError{"wrong password"}

	// ErrCorrupted: a message failed to open after the channel was
	// established.
	ErrCorrupted error = &cryptoError{"corrupted message"}

	// ErrTimeout is returned when a bounded step ran past its deadline.
	ErrTimeout = errors.New("timeout")
)

type cryptoError struct{ msg string }

func (e *cryptoError) Error() string { return e.msg }

func (e *cryptoError) Is(target error) bool { return target == ErrCrypto }

// ProtocolError carries the offending message along with the reason it was
// rejected.
type ProtocolError struct {
	Op     string
	Reason string
	Orig   string
}

func (e *ProtocolError) Error() string {
	if e.Orig == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s (message %s)", e.Op, e.Reason, e.Orig)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
