package wormhole

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"wormhole/internal/code"
	"wormhole/internal/crypto"
	"wormhole/internal/domain"
	wlog "wormhole/internal/log"
	"wormhole/internal/relay"
	"wormhole/internal/wire"
)

// farewellTimeout bounds the best-effort close sent when a session fails.
const farewellTimeout = time.Second

// Config describes one wormhole.
type Config struct {
	// RelayURL is the websocket URL of the mailbox server.
	RelayURL string
	// AppID namespaces the wormhole on the server and is mixed into the
	// key exchange. Both sides must use the same value.
	AppID domain.AppID
	// Code is the full wormhole code. When empty a nameplate is allocated
	// (or Nameplate is used) and a code is generated.
	Code string
	// Nameplate fixes the nameplate of a generated code instead of asking
	// the server to allocate one. Ignored when Code is set.
	Nameplate domain.Nameplate
	// CodeWords is the number of words in a generated code.
	CodeWords int
	// ClaimTimeout bounds Claim; PakeTimeout bounds Exchange. Zero means
	// no bound beyond the caller's context.
	ClaimTimeout time.Duration
	PakeTimeout  time.Duration
	// AppVersions is sent, encrypted, as the key-confirmation payload.
	AppVersions map[string]any
}

// Session drives one client's end of a wormhole. It is owned by a single
// goroutine and is not safe for concurrent use.
type Session struct {
	cfg    Config
	dialer domain.Dialer
	log    *logging.Logger

	state State
	err   error

	conn      domain.Conn
	side      domain.Side
	welcome   wire.WelcomeInfo
	code      string
	nameplate domain.Nameplate
	mailbox   domain.MailboxID
	claimed   bool
	opened    bool

	pake         *crypto.Pake
	key          []byte
	verifier     []byte
	peerVersions map[string]any

	peerSide  domain.Side
	inbox     map[domain.Phase]*inbound
	seen      map[domain.Phase]bool
	sendPhase uint64
	recvPhase uint64
	received  int
}

// New returns an idle session. A nil dialer dials websockets with default
// options; a nil logger discards.
func New(cfg Config, dialer domain.Dialer, log *logging.Logger) *Session {
	if cfg.CodeWords <= 0 {
		cfg.CodeWords = code.DefaultWords
	}
	if dialer == nil {
		dialer = &relay.Dialer{}
	}
	if log == nil {
		log = wlog.Discard("wormhole")
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		log:    log,
		inbox:  make(map[domain.Phase]*inbound),
		seen:   make(map[domain.Phase]bool),
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Err returns the error that failed the session, or nil.
func (s *Session) Err() error { return s.err }

// Side returns this session's side. It is empty before Connect.
func (s *Session) Side() domain.Side { return s.side }

// Code returns the wormhole code, known once the nameplate is claimed.
func (s *Session) Code() string { return s.code }

// Nameplate returns the claimed nameplate.
func (s *Session) Nameplate() domain.Nameplate { return s.nameplate }

// MOTD returns the server's message of the day.
func (s *Session) MOTD() string { return s.welcome.MOTD }

// Verifier returns a copy of the key verifier, or nil before the key
// exchange finished or after the session ended.
func (s *Session) Verifier() []byte {
	if s.verifier == nil {
		return nil
	}
	return append([]byte(nil), s.verifier...)
}

// PeerVersions returns the peer's key-confirmation payload.
func (s *Session) PeerVersions() map[string]any { return s.peerVersions }

// Mood suggests the mood for Close: happy once an application message
// arrived from the peer, lonely otherwise, and the failure's mood for a
// failed session.
func (s *Session) Mood() domain.Mood {
	switch {
	case s.err != nil:
		return moodFor(s.err)
	case s.received > 0:
		return domain.MoodHappy
	}
	return domain.MoodLonely
}

// Connect dials the server, reads the welcome and binds.
func (s *Session) Connect(ctx context.Context) error {
	if s.state != Idle {
		return stateError("connect", s.state)
	}
	side, err := domain.NewSide()
	if err != nil {
		return s.fail(fmt.Errorf("connect: %w", err))
	}
	s.side = side

	conn, err := s.dialer.Dial(ctx, s.cfg.RelayURL)
	if err != nil {
		return s.fail(stepError(ctx, "connect", err))
	}
	s.conn = conn

	m, err := s.waitFor(ctx, wire.Welcome{})
	if err != nil {
		return s.fail(stepError(ctx, "welcome", err))
	}
	s.welcome = m.Body.(wire.Welcome).Welcome
	if s.welcome.Error != "" {
		return s.fail(fmt.Errorf("%w: %s", ErrWelcome, s.welcome.Error))
	}
	if s.welcome.MOTD != "" {
		s.log.Noticef("server says: %s", s.welcome.MOTD)
	}

	if err := s.send(ctx, wire.Bind{AppID: s.cfg.AppID, Side: s.side}); err != nil {
		return s.fail(stepError(ctx, "bind", err))
	}
	s.state = Connected
	s.log.Debugf("connected to %s as %s", s.cfg.RelayURL, s.side)
	return nil
}

// Claim settles the code and claims its nameplate. Without a configured code
// the server allocates a nameplate first.
func (s *Session) Claim(ctx context.Context) error {
	if s.state != Connected {
		return stateError("claim", s.state)
	}
	parent := ctx
	ctx, cancel := bounded(ctx, s.cfg.ClaimTimeout)
	defer cancel()

	np, err := s.settleCode(ctx)
	if err != nil {
		return s.fail(stepError(parent, "allocate", err))
	}

	if err := s.send(ctx, wire.Claim{Nameplate: np}); err != nil {
		return s.fail(stepError(parent, "claim", err))
	}
	m, err := s.waitFor(ctx, wire.Claimed{})
	if err != nil {
		return s.fail(stepError(parent, "claim", err))
	}
	s.nameplate = np
	s.mailbox = m.Body.(wire.Claimed).Mailbox
	s.claimed = true
	s.state = NameplateClaimed
	s.log.Debugf("claimed nameplate %s, mailbox %s", np, s.mailbox)
	return nil
}

func (s *Session) settleCode(ctx context.Context) (domain.Nameplate, error) {
	if s.cfg.Code != "" {
		c := code.Normalize(s.cfg.Code)
		np, err := code.Parse(c)
		if err != nil {
			return "", err
		}
		s.code = c
		return np, nil
	}

	np := s.cfg.Nameplate
	if np == "" {
		if err := s.send(ctx, wire.Allocate{}); err != nil {
			return "", err
		}
		m, err := s.waitFor(ctx, wire.Allocated{})
		if err != nil {
			return "", err
		}
		np = m.Body.(wire.Allocated).Nameplate
	}
	c, err := code.Generate(np, s.cfg.CodeWords)
	if err != nil {
		return "", err
	}
	s.code = c
	return np, nil
}

// Exchange opens the mailbox, runs the key exchange and confirms the key
// with the peer.
//
// Steps:
//  1. Open the mailbox and send our SPAKE2 value as phase "pake".
//  2. Wait for the peer's value, then release the nameplate: the peer has
//     found the mailbox and nobody else needs it.
//  3. Finish SPAKE2 and derive the session key; the raw secret is wiped.
//  4. Send our sealed "version", then open the peer's. Success proves both
//     sides hold the same key.
func (s *Session) Exchange(ctx context.Context) error {
	if s.state != NameplateClaimed {
		return stateError("exchange", s.state)
	}
	parent := ctx
	ctx, cancel := bounded(ctx, s.cfg.PakeTimeout)
	defer cancel()

	if err := s.send(ctx, wire.Open{Mailbox: s.mailbox}); err != nil {
		return s.fail(stepError(parent, "open", err))
	}
	s.opened = true

	pake, outbound, err := crypto.StartPake(s.cfg.AppID, s.code)
	if err != nil {
		return s.fail(fmt.Errorf("pake: %w", err))
	}
	s.pake = pake
	body, err := wire.EncodePake(outbound)
	if err != nil {
		return s.fail(fmt.Errorf("pake: %w", err))
	}
	if err := s.send(ctx, wire.Add{Phase: domain.PhasePake, Body: body}); err != nil {
		return s.fail(stepError(parent, "pake", err))
	}
	s.state = PakeSent

	in, err := s.waitPhase(ctx, domain.PhasePake)
	if err != nil {
		return s.fail(stepError(parent, "pake", err))
	}
	if err := s.release(ctx); err != nil {
		return s.fail(stepError(parent, "release", err))
	}

	peerValue, err := wire.DecodePake(in.body)
	if err != nil {
		return s.fail(fmt.Errorf("pake: %w", crypto.ErrCryptoMismatch))
	}
	secret, err := s.pake.Finish(peerValue)
	s.pake = nil
	if err != nil {
		return s.fail(fmt.Errorf("pake: %w", err))
	}
	s.key = crypto.SessionKey(secret, string(s.nameplate), outbound, peerValue)
	crypto.Wipe(secret)
	s.verifier = crypto.Verifier(s.key)

	plaintext, err := wire.EncodeVersion(s.cfg.AppVersions)
	if err != nil {
		return s.fail(fmt.Errorf("version: %w", err))
	}
	if err := s.sendSealed(ctx, domain.PhaseVersion, plaintext); err != nil {
		return s.fail(stepError(parent, "version", err))
	}
	s.state = KeyConfirmSent

	in, err = s.waitPhase(ctx, domain.PhaseVersion)
	if err != nil {
		return s.fail(stepError(parent, "version", err))
	}
	opened, err := crypto.Open(crypto.PhaseKey(s.key, string(in.side), string(domain.PhaseVersion)), in.body)
	if err != nil {
		return s.fail(fmt.Errorf("version: %w", domain.ErrWrongPassword))
	}
	versions, err := wire.DecodeVersion(opened)
	if err != nil {
		return s.fail(&domain.ProtocolError{Op: "version", Reason: err.Error()})
	}
	s.peerVersions = versions

	s.state = Ready
	// Application phases the peer sent while we were confirming are opened
	// now, as they would have been on arrival.
	for phase, msg := range s.inbox {
		if _, ok := phase.Number(); ok {
			if err := s.openInbound(phase, msg); err != nil {
				return s.fail(err)
			}
		}
	}
	s.log.Infof("wormhole %s established", s.nameplate)
	return nil
}

// Establish runs Connect, Claim and Exchange.
func (s *Session) Establish(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.Claim(ctx); err != nil {
		return err
	}
	return s.Exchange(ctx)
}

// Send seals data under the next numeric phase and sends it.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if s.state != Ready {
		return stateError("send", s.state)
	}
	phase := domain.NumericPhase(s.sendPhase)
	if err := s.sendSealed(ctx, phase, data); err != nil {
		return s.fail(stepError(ctx, "send", err))
	}
	s.sendPhase++
	return nil
}

// Receive returns the peer's next application message. Messages are
// returned in phase order regardless of arrival order.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	if s.state != Ready {
		return nil, stateError("receive", s.state)
	}
	phase := domain.NumericPhase(s.recvPhase)
	in, err := s.waitPhase(ctx, phase)
	if err != nil {
		return nil, s.fail(stepError(ctx, "receive", err))
	}
	if err := s.openInbound(phase, in); err != nil {
		return nil, s.fail(err)
	}
	s.recvPhase++
	s.received++
	return in.plaintext, nil
}

// Close releases the nameplate if still held, closes the mailbox with mood
// and hangs up. Closing a failed or closed session only returns its error.
func (s *Session) Close(ctx context.Context, mood domain.Mood) error {
	switch {
	case s.state.Terminal():
		return s.err
	case s.state == Idle:
		s.state = Closed
		return nil
	}
	if !mood.Valid() {
		mood = domain.MoodErrory
	}

	err := s.farewell(ctx, mood, true)
	s.conn.Close()
	s.discardKeys()
	s.state = Closed
	if err != nil {
		return stepError(ctx, "close", err)
	}
	s.log.Debugf("closed %s (%s)", s.mailbox, mood)
	return nil
}

// farewell releases and closes what the session still holds. When wait is
// set it waits for the server to confirm the close.
func (s *Session) farewell(ctx context.Context, mood domain.Mood, wait bool) error {
	if s.claimed {
		if err := s.release(ctx); err != nil {
			return err
		}
	}
	if s.mailbox == "" {
		return nil
	}
	if err := s.send(ctx, wire.Close{Mailbox: s.mailbox, Mood: mood}); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	_, err := s.waitFor(ctx, wire.Closed{})
	return err
}

func (s *Session) release(ctx context.Context) error {
	if !s.claimed {
		return nil
	}
	if err := s.send(ctx, wire.Release{Nameplate: s.nameplate}); err != nil {
		return err
	}
	s.claimed = false
	return nil
}

// fail moves the session to Failed, wipes key material and tells the server
// how it ended. It returns err for convenience.
func (s *Session) fail(err error) error {
	if s.state == Failed {
		return s.err
	}
	s.state = Failed
	s.err = err
	s.discardKeys()
	s.log.Warningf("wormhole failed: %v", err)

	if s.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
		defer cancel()
		if ferr := s.farewell(ctx, moodFor(err), false); ferr != nil && !errors.Is(ferr, domain.ErrTransport) {
			s.log.Debugf("farewell: %v", ferr)
		}
		s.conn.Close()
	}
	return err
}

func (s *Session) discardKeys() {
	s.pake.Destroy()
	s.pake = nil
	crypto.Wipe(s.key, s.verifier)
	s.key, s.verifier = nil, nil
	for _, in := range s.inbox {
		crypto.Wipe(in.plaintext)
	}
}

func (s *Session) send(ctx context.Context, body wire.ClientBody) error {
	frame, err := wire.Encode(wire.ClientMessage{ID: wire.NewID(), Body: body})
	if err != nil {
		return err
	}
	return s.conn.Send(ctx, frame)
}

func (s *Session) sendSealed(ctx context.Context, phase domain.Phase, plaintext []byte) error {
	key := crypto.PhaseKey(s.key, string(s.side), string(phase))
	defer crypto.Wipe(key)
	box, err := crypto.Seal(key, plaintext)
	if err != nil {
		return err
	}
	return s.send(ctx, wire.Add{Phase: phase, Body: box})
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
