package wormhole

import (
	"context"
	"fmt"

	"wormhole/internal/crypto"
	"wormhole/internal/domain"
	"wormhole/internal/wire"
)

// inbound is one message from the peer, kept until the session asks for its
// phase.
type inbound struct {
	side      domain.Side
	body      []byte
	plaintext []byte
	opened    bool
}

// next reads one frame. Peer messages are filed in the inbox, error replies
// become errors, everything else is returned to the caller.
func (s *Session) next(ctx context.Context) (wire.ServerMessage, error) {
	frame, err := s.conn.Receive(ctx)
	if err != nil {
		return wire.ServerMessage{}, err
	}
	m, err := wire.DecodeServer(frame)
	if err != nil {
		return m, &domain.ProtocolError{Op: "decode", Reason: err.Error(), Orig: string(frame)}
	}

	switch b := m.Body.(type) {
	case wire.Error:
		return m, serverError(b)
	case wire.Message:
		if b.Side == s.side {
			return m, nil
		}
		if err := s.file(b); err != nil {
			return m, err
		}
	}
	return m, nil
}

func (s *Session) file(b wire.Message) error {
	switch {
	case s.peerSide == "":
		s.peerSide = b.Side
	case b.Side != s.peerSide:
		return &domain.ProtocolError{Op: "message", Reason: fmt.Sprintf("unexpected third side %s", b.Side)}
	}
	if s.seen[b.Phase] {
		return &domain.ProtocolError{Op: "message", Reason: fmt.Sprintf("duplicate phase %q", b.Phase)}
	}
	s.seen[b.Phase] = true
	in := &inbound{side: b.Side, body: b.Body}
	s.inbox[b.Phase] = in
	s.log.Debugf("received phase %s from %s", b.Phase, b.Side)

	if _, ok := b.Phase.Number(); ok && s.state == Ready {
		return s.openInbound(b.Phase, in)
	}
	return nil
}

// openInbound decrypts an application phase. Failing to open anything once
// the key is confirmed means the channel is corrupted.
func (s *Session) openInbound(phase domain.Phase, in *inbound) error {
	if in.opened {
		return nil
	}
	key := crypto.PhaseKey(s.key, string(in.side), string(phase))
	defer crypto.Wipe(key)
	pt, err := crypto.Open(key, in.body)
	if err != nil {
		return fmt.Errorf("phase %s: %w", phase, domain.ErrCorrupted)
	}
	in.plaintext, in.opened = pt, true
	return nil
}

// waitFor reads until a reply of the same type as want arrives.
func (s *Session) waitFor(ctx context.Context, want wire.ServerBody) (wire.ServerMessage, error) {
	typ := wire.ServerMessage{Body: want}.Type()
	for {
		m, err := s.next(ctx)
		if err != nil {
			return m, err
		}
		if m.Type() == typ {
			return m, nil
		}
	}
}

// waitPhase returns the peer's message for phase, reading until it arrives.
func (s *Session) waitPhase(ctx context.Context, phase domain.Phase) (*inbound, error) {
	for {
		if in, ok := s.inbox[phase]; ok {
			delete(s.inbox, phase)
			return in, nil
		}
		if _, err := s.next(ctx); err != nil {
			return nil, err
		}
	}
}
