package wormhole

import (
	"context"
	"errors"
	"fmt"

	"wormhole/internal/domain"
	"wormhole/internal/wire"
)

var (
	// ErrWelcome is returned by Connect when the server refuses service in
	// its welcome message.
	ErrWelcome = errors.New("wormhole: server refused service")

	// ErrState is returned when an operation is called in the wrong state.
	// It does not fail the session.
	ErrState = errors.New("wormhole: operation not valid in this state")
)

func stateError(op string, s State) error {
	return fmt.Errorf("%s in state %s: %w", op, s, ErrState)
}

// serverError converts an error reply. "crowded" is singled out so callers
// can retry with another nameplate.
func serverError(e wire.Error) error {
	if e.Error == domain.ErrCrowded.Error() {
		return domain.ErrCrowded
	}
	return &domain.ProtocolError{Op: "server", Reason: e.Error, Orig: string(e.Orig)}
}

// stepError names the step that failed. A deadline that expired inside a
// bounded step becomes domain.ErrTimeout; the caller's own cancellation is
// passed through.
func stepError(parent context.Context, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%s: %w", step, domain.ErrTimeout)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// moodFor picks the mood reported to the server for a failure.
func moodFor(err error) domain.Mood {
	switch {
	case errors.Is(err, domain.ErrCrypto):
		return domain.MoodScary
	case errors.Is(err, domain.ErrTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return domain.MoodLonely
	}
	return domain.MoodErrory
}
