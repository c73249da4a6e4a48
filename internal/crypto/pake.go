package crypto

import (
	"errors"
	"fmt"

	"salsa.debian.org/vasudev/gospake2"

	"wormhole/internal/domain"
)

var (
	// ErrCryptoMismatch is returned when the peer's PAKE value cannot be
	// used. At this layer that is indistinguishable from a wrong code.
	ErrCryptoMismatch = fmt.Errorf("pake: crypto mismatch: %w", domain.ErrWrongPassword)

	// ErrPakeConsumed is returned by Finish on a state that already finished
	// or was destroyed.
	ErrPakeConsumed = errors.New("pake: state already consumed")
)

// Pake is one side of a symmetric SPAKE2 exchange. It is single use: after
// Finish or Destroy it holds no key material and refuses further work.
type Pake struct {
	finish func([]byte) ([]byte, error)
}

// StartPake binds a SPAKE2 instance to the application identity and the
// shared password (the full wormhole code) and returns the first outbound
// public value.
func StartPake(appID domain.AppID, password string) (*Pake, []byte, error) {
	if password == "" {
		return nil, nil, errors.New("pake: empty password")
	}
	s := gospake2.SPAKE2Symmetric(
		gospake2.NewPassword(password),
		gospake2.NewIdentityS(appID.String()),
	)
	msg := s.Start()
	return &Pake{finish: s.Finish}, msg, nil
}

// Finish consumes the peer's public value and returns the raw shared secret.
// The state is destroyed whether or not it succeeds.
func (p *Pake) Finish(inbound []byte) ([]byte, error) {
	if p == nil || p.finish == nil {
		return nil, ErrPakeConsumed
	}
	finish := p.finish
	p.Destroy()
	secret, err := finish(inbound)
	if err != nil {
		return nil, ErrCryptoMismatch
	}
	return secret, nil
}

// Destroy drops the SPAKE2 state. It is safe to call more than once.
func (p *Pake) Destroy() {
	if p == nil {
		return
	}
	p.finish = nil
}
