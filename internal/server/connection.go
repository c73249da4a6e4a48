package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"wormhole/internal/domain"
	"wormhole/internal/mailbox"
	"wormhole/internal/relay"
	"wormhole/internal/wire"
)

// Error strings sent to clients. They match the reference server so
// existing clients can recognise them.
var (
	errMustBind        = errors.New("must bind first")
	errAlreadyBound    = errors.New("already bound")
	errBindAppID       = errors.New("bind requires 'appid'")
	errBindSide        = errors.New("bind requires 'side'")
	errGreedy          = errors.New("you already allocated one, don't be greedy")
	errOneClaim        = errors.New("only one claim per connection")
	errClaimNameplate  = errors.New("claim requires a numeric 'nameplate'")
	errClaimAllocated  = errors.New("claim must use the allocated nameplate")
	errOneRelease      = errors.New("only one release per connection")
	errReleaseNoClaim  = errors.New("release without nameplate must follow claim")
	errReleaseMismatch = errors.New("release and claim must use same nameplate")
	errOneOpen         = errors.New("only one open per connection")
	errOpenMailbox     = errors.New("open requires 'mailbox'")
	errAddBeforeOpen   = errors.New("must open mailbox before adding")
	errAddPhase        = errors.New("add requires 'phase'")
	errOneClose        = errors.New("only one close per connection")
	errCloseMismatch   = errors.New("open and close must use same mailbox")
	errCloseBeforeOpen = errors.New("must open mailbox before closing")
)

// connection is the per-websocket protocol state. The protocol fields are
// owned by the reader goroutine; the registry reaches the connection only
// through Deliver and Evict.
type connection struct {
	s    *Server
	conn domain.Conn
	id   string

	out     chan wire.ServerMessage
	kick    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Bool

	// backlog holds a replayed mailbox log until the writer picks it up.
	backlogMu sync.Mutex
	backlog   []wire.ServerMessage

	app          domain.AppID
	side         domain.Side
	bound        bool
	allocated    bool
	claimed      bool
	released     bool
	closed       bool
	failed       bool
	nameplate    domain.Nameplate
	claimMailbox domain.MailboxID
	mailbox      domain.MailboxID
}

var _ mailbox.Subscriber = (*connection)(nil)

func newConnection(s *Server, conn domain.Conn, id string) *connection {
	return &connection{
		s:    s,
		conn: conn,
		id:   id,
		out:  make(chan wire.ServerMessage, s.cfg.SendQueue),
		kick: make(chan struct{}, 1),
	}
}

func (c *connection) run(parent context.Context) {
	c.ctx, c.cancel = context.WithCancel(parent)
	defer c.cancel()
	defer c.conn.Close()

	welcome := wire.ServerMessage{Body: wire.Welcome{Welcome: c.s.welcome()}}
	if c.s.cfg.WelcomeError != "" {
		if err := c.write(c.ctx, welcome); err != nil {
			c.s.log.Debugf("%s: failed to send welcome: %v", c.id, err)
		}
		return
	}
	c.enqueue(welcome)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(stop)
	}()

	c.readLoop()
	c.disconnect()
	close(stop)
	<-writerDone
	if !c.dropped.Load() {
		c.drain()
	}
}

func (c *connection) readLoop() {
	for {
		frame, err := c.conn.Receive(c.ctx)
		if err != nil {
			if !errors.Is(err, relay.ErrClosed) {
				c.failed = true
				c.s.log.Debugf("%s: read: %v", c.id, err)
			}
			return
		}
		if !c.handle(frame) {
			c.failed = true
			return
		}
	}
}

// writeLoop sends queued replies. A replayed backlog goes out before the
// next queued message, so it precedes everything relayed after the open. It
// may overtake acks that were already queued.
func (c *connection) writeLoop(stop <-chan struct{}) {
	for {
		var batch []wire.ServerMessage
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-c.kick:
			batch = c.takeBacklog()
		case m := <-c.out:
			batch = append(c.takeBacklog(), m)
		}
		for _, m := range batch {
			if err := c.write(c.ctx, m); err != nil {
				c.s.log.Debugf("%s: write: %v", c.id, err)
				c.cancel()
				return
			}
		}
	}
}

func (c *connection) takeBacklog() []wire.ServerMessage {
	c.backlogMu.Lock()
	defer c.backlogMu.Unlock()
	b := c.backlog
	c.backlog = nil
	return b
}

// drain flushes replies queued before the reader stopped, e.g. the error
// for an undecodable frame.
func (c *connection) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, m := range c.takeBacklog() {
		if err := c.write(ctx, m); err != nil {
			return
		}
	}
	for {
		select {
		case m := <-c.out:
			if err := c.write(ctx, m); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(ctx context.Context, m wire.ServerMessage) error {
	m.ServerTx = wire.Timestamp(c.s.now())
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, frame)
}

// enqueue never blocks. A connection that cannot keep up is dropped.
func (c *connection) enqueue(m wire.ServerMessage) bool {
	select {
	case c.out <- m:
		return true
	default:
		if c.drop("send queue full") {
			c.s.metrics.evicted.Inc()
		}
		return false
	}
}

// drop cancels the connection once. It reports whether this call did it.
func (c *connection) drop(reason string) bool {
	if !c.dropped.CompareAndSwap(false, true) {
		return false
	}
	c.s.log.Infof("%s: dropping connection: %s", c.id, reason)
	c.cancel()
	return true
}

func relayed(m mailbox.Message) wire.ServerMessage {
	return wire.ServerMessage{
		ID:       m.ID,
		ServerRx: wire.Timestamp(m.Received),
		Body:     wire.Message{Side: m.Side, Phase: m.Phase, Body: m.Body},
	}
}

// Replay implements mailbox.Subscriber. The backlog bypasses the bounded
// queue: a side opening a long mailbox is not slow, just late.
func (c *connection) Replay(backlog []mailbox.Message) {
	msgs := make([]wire.ServerMessage, 0, len(backlog))
	for _, m := range backlog {
		msgs = append(msgs, relayed(m))
	}
	c.backlogMu.Lock()
	c.backlog = append(c.backlog, msgs...)
	c.backlogMu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Deliver implements mailbox.Subscriber.
func (c *connection) Deliver(m mailbox.Message) { c.enqueue(relayed(m)) }

// Evict implements mailbox.Subscriber.
func (c *connection) Evict() { _ = c.drop("mailbox pruned") }

// handle processes one frame. It returns false when the connection must be
// closed.
func (c *connection) handle(frame []byte) bool {
	rx := c.s.now()
	msg, err := wire.DecodeClient(frame)
	if err != nil {
		c.s.log.Debugf("%s: undecodable frame: %v", c.id, err)
		c.replyError(err, frame)
		return false
	}
	c.s.metrics.messages.WithLabelValues(msg.Type()).Inc()
	c.enqueue(wire.ServerMessage{ID: msg.ID, ServerRx: wire.Timestamp(rx), Body: wire.Ack{}})

	if err := c.dispatch(msg, rx); err != nil {
		c.s.log.Debugf("%s: %s rejected: %v", c.id, msg.Type(), err)
		c.replyError(err, frame)
	}
	return true
}

func (c *connection) replyError(err error, frame []byte) {
	c.s.metrics.protocolErrors.Inc()
	c.enqueue(wire.ServerMessage{Body: wire.Error{Error: err.Error(), Orig: wire.Orig(frame)}})
}

func (c *connection) dispatch(msg wire.ClientMessage, rx time.Time) error {
	switch body := msg.Body.(type) {
	case wire.Ping:
		c.enqueue(wire.ServerMessage{Body: wire.Pong{Pong: body.Ping}})
		return nil
	case wire.Bind:
		return c.bind(body)
	}
	if !c.bound {
		return errMustBind
	}

	switch body := msg.Body.(type) {
	case wire.List:
		return c.list()
	case wire.Allocate:
		return c.allocate()
	case wire.Claim:
		return c.claim(body)
	case wire.Release:
		return c.release(body)
	case wire.Open:
		return c.open(body)
	case wire.Add:
		return c.add(msg.ID, body, rx)
	case wire.Close:
		return c.close(body)
	}
	return wire.ErrUnknownType
}

func (c *connection) bind(b wire.Bind) error {
	switch {
	case c.bound:
		return errAlreadyBound
	case b.AppID == "":
		return errBindAppID
	case b.Side == "":
		return errBindSide
	}
	c.app, c.side, c.bound = b.AppID, b.Side, true
	c.s.log.Debugf("%s: bound to %s as %s", c.id, c.app, c.side)
	return nil
}

func (c *connection) list() error {
	nps := c.s.reg.List(c.app)
	infos := make([]wire.NameplateInfo, 0, len(nps))
	for _, np := range nps {
		infos = append(infos, wire.NameplateInfo{ID: np})
	}
	c.enqueue(wire.ServerMessage{Body: wire.Nameplates{Nameplates: infos}})
	return nil
}

func (c *connection) allocate() error {
	if c.allocated {
		return errGreedy
	}
	np, mb, err := c.s.reg.Allocate(c.app, c.side)
	if err != nil {
		return err
	}
	c.allocated = true
	c.nameplate = np
	c.claimMailbox = mb
	c.s.metrics.allocated.Inc()
	c.enqueue(wire.ServerMessage{Body: wire.Allocated{Nameplate: np}})
	return nil
}

func (c *connection) claim(b wire.Claim) error {
	switch {
	case c.claimed:
		return errOneClaim
	case !b.Nameplate.Valid():
		return errClaimNameplate
	case c.allocated && b.Nameplate != c.nameplate:
		return errClaimAllocated
	}
	mb, err := c.s.reg.Claim(c.app, b.Nameplate, c.side)
	if err != nil {
		return err
	}
	c.claimed = true
	c.nameplate = b.Nameplate
	c.claimMailbox = mb
	c.enqueue(wire.ServerMessage{Body: wire.Claimed{Mailbox: mb}})
	return nil
}

func (c *connection) release(b wire.Release) error {
	if c.released {
		return errOneRelease
	}
	np := b.Nameplate
	switch {
	case np == "" && c.nameplate == "":
		return errReleaseNoClaim
	case np == "":
		np = c.nameplate
	case c.nameplate != "" && np != c.nameplate:
		return errReleaseMismatch
	}
	if err := c.s.reg.Release(c.app, np, c.side); err != nil {
		return err
	}
	c.released = true
	c.enqueue(wire.ServerMessage{Body: wire.Released{}})
	return nil
}

func (c *connection) open(b wire.Open) error {
	switch {
	case c.mailbox != "":
		return errOneOpen
	case b.Mailbox == "":
		return errOpenMailbox
	}
	if err := c.s.reg.Open(c.app, b.Mailbox, c.side, c); err != nil {
		return err
	}
	c.mailbox = b.Mailbox
	return nil
}

func (c *connection) add(id string, b wire.Add, rx time.Time) error {
	switch {
	case c.mailbox == "":
		return errAddBeforeOpen
	case b.Phase == "":
		return errAddPhase
	}
	err := c.s.reg.Add(c.app, c.mailbox, mailbox.Message{
		ID:       id,
		Side:     c.side,
		Phase:    b.Phase,
		Body:     b.Body,
		Received: rx,
	})
	if errors.Is(err, mailbox.ErrDuplicatePhase) {
		c.s.log.Debugf("%s: dropped repeated phase %s", c.id, b.Phase)
		return nil
	}
	if err != nil {
		return err
	}
	c.s.metrics.relayed.Inc()
	return nil
}

func (c *connection) close(b wire.Close) error {
	switch {
	case c.closed:
		return errOneClose
	case c.mailbox != "" && b.Mailbox != c.mailbox:
		return errCloseMismatch
	case c.mailbox == "" && (c.claimMailbox == "" || b.Mailbox != c.claimMailbox):
		return errCloseBeforeOpen
	}
	err := c.s.reg.Close(c.app, b.Mailbox, c.side, b.Mood)
	if err != nil && !errors.Is(err, mailbox.ErrNoMailbox) {
		return err
	}
	c.closed = true
	c.enqueue(wire.ServerMessage{Body: wire.Closed{}})
	return nil
}

// disconnect releases whatever the client left behind. A client that went
// away without closing is recorded as lonely, or errory when the connection
// failed.
func (c *connection) disconnect() {
	if !c.bound {
		return
	}
	mood := domain.MoodLonely
	if c.failed {
		mood = domain.MoodErrory
	}
	if (c.allocated || c.claimed) && !c.released {
		_ = c.s.reg.Release(c.app, c.nameplate, c.side)
	}
	mb := c.mailbox
	if mb == "" {
		mb = c.claimMailbox
	}
	if !c.closed && mb != "" {
		if err := c.s.reg.Close(c.app, mb, c.side, mood); err != nil && !errors.Is(err, mailbox.ErrNoMailbox) {
			c.s.log.Warningf("%s: close on disconnect: %v", c.id, err)
		}
	}
}
