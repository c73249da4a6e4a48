package server_test

import (
	"context"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wormhole/internal/domain"
	"wormhole/internal/mailbox"
	"wormhole/internal/relay"
	"wormhole/internal/server"
	"wormhole/internal/wire"
)

const app = domain.AppID("example.com/wormhole/server-test")

type recorder struct {
	mu   sync.Mutex
	recs []domain.UsageRecord
}

func (r *recorder) RecordUsage(rec domain.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recorder) records() []domain.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UsageRecord(nil), r.recs...)
}

type fixture struct {
	url     string
	usage   *recorder
	metrics *server.Metrics
	reg     *mailbox.Registry
	srv     *server.Server
}

func newFixture(t *testing.T, cfg server.Config) *fixture {
	t.Helper()
	f := &fixture{usage: &recorder{}, metrics: server.NewMetrics()}
	f.reg = mailbox.New(nil, mailbox.WithUsage(f.metrics.CountingRecorder(f.usage)))
	f.metrics.Track(f.reg)
	f.srv = server.New(f.reg, cfg, nil, f.metrics)
	hs := httptest.NewServer(f.srv)
	t.Cleanup(hs.Close)
	f.url = "ws" + strings.TrimPrefix(hs.URL, "http")
	return f
}

type client struct {
	t    *testing.T
	ctx  context.Context
	conn domain.Conn
}

// connect dials the server and consumes the welcome.
func (f *fixture) connect(t *testing.T) (*client, wire.WelcomeInfo) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, err := relay.Dial(ctx, f.url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, ctx: ctx, conn: conn}
	m := c.next()
	require.Equal(t, "welcome", m.Type())
	return c, m.Body.(wire.Welcome).Welcome
}

func (f *fixture) bound(t *testing.T, side domain.Side) *client {
	c, _ := f.connect(t)
	c.send(wire.Bind{AppID: app, Side: side})
	c.expect("ack")
	return c
}

func (c *client) send(body wire.ClientBody) string {
	c.t.Helper()
	id := wire.NewID()
	frame, err := wire.Encode(wire.ClientMessage{ID: id, Body: body})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Send(c.ctx, frame))
	return id
}

func (c *client) next() wire.ServerMessage {
	c.t.Helper()
	frame, err := c.conn.Receive(c.ctx)
	require.NoError(c.t, err)
	m, err := wire.DecodeServer(frame)
	require.NoError(c.t, err)
	return m
}

// expect returns the next message of type typ, skipping acks.
func (c *client) expect(typ string) wire.ServerMessage {
	c.t.Helper()
	for {
		m := c.next()
		if m.Type() == "ack" && typ != "ack" {
			continue
		}
		require.Equal(c.t, typ, m.Type(), "unexpected %#v", m.Body)
		return m
	}
}

func (c *client) expectError(reason string) {
	c.t.Helper()
	m := c.expect("error")
	assert.Equal(c.t, reason, m.Body.(wire.Error).Error)
}

func TestWelcome_CarriesMOTD(t *testing.T) {
	f := newFixture(t, server.Config{MOTD: "be nice"})
	_, w := f.connect(t)
	assert.Equal(t, "be nice", w.MOTD)
	assert.Empty(t, w.Error)
}

func TestWelcome_ErrorClosesConnection(t *testing.T) {
	f := newFixture(t, server.Config{WelcomeError: "go away"})
	c, w := f.connect(t)
	assert.Equal(t, "go away", w.Error)
	_, err := c.conn.Receive(c.ctx)
	require.Error(t, err)
}

func TestAck_EchoesID(t *testing.T) {
	f := newFixture(t, server.Config{})
	c, _ := f.connect(t)
	id := c.send(wire.Bind{AppID: app, Side: "aaaa"})
	ack := c.next()
	require.Equal(t, "ack", ack.Type())
	assert.Equal(t, id, ack.ID)
	assert.NotZero(t, ack.ServerTx)
	assert.NotZero(t, ack.ServerRx)
}

func TestPing_WorksBeforeBind(t *testing.T) {
	f := newFixture(t, server.Config{})
	c, _ := f.connect(t)
	c.send(wire.Ping{Ping: 7})
	assert.Equal(t, 7, c.expect("pong").Body.(wire.Pong).Pong)
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture(t, server.Config{})

	t.Run("must bind first", func(t *testing.T) {
		c, _ := f.connect(t)
		c.send(wire.Allocate{})
		c.expectError("must bind first")
	})
	t.Run("already bound", func(t *testing.T) {
		c := f.bound(t, "aaaa")
		c.send(wire.Bind{AppID: app, Side: "aaaa"})
		c.expectError("already bound")
	})
	t.Run("bind requires appid", func(t *testing.T) {
		c, _ := f.connect(t)
		c.send(wire.Bind{Side: "aaaa"})
		c.expectError("bind requires 'appid'")
	})
	t.Run("greedy allocate", func(t *testing.T) {
		c := f.bound(t, "aaaa")
		c.send(wire.Allocate{})
		c.expect("allocated")
		c.send(wire.Allocate{})
		c.expectError("you already allocated one, don't be greedy")
	})
	t.Run("add before open", func(t *testing.T) {
		c := f.bound(t, "aaaa")
		c.send(wire.Add{Phase: domain.PhasePake, Body: []byte("x")})
		c.expectError("must open mailbox before adding")
	})
	t.Run("one open per connection", func(t *testing.T) {
		c := f.bound(t, "aaaa")
		c.send(wire.Open{Mailbox: "mb1"})
		c.send(wire.Open{Mailbox: "mb2"})
		c.expectError("only one open per connection")
	})
	t.Run("release without claim", func(t *testing.T) {
		c := f.bound(t, "aaaa")
		c.send(wire.Release{})
		c.expectError("release without nameplate must follow claim")
	})
}

func TestUndecodableFrameClosesConnection(t *testing.T) {
	f := newFixture(t, server.Config{})
	c, _ := f.connect(t)
	require.NoError(t, c.conn.Send(c.ctx, []byte(`{"type":"bogus"}`)))

	m := c.expect("error")
	e := m.Body.(wire.Error)
	assert.NotEmpty(t, e.Error)
	assert.JSONEq(t, `{"type":"bogus"}`, string(e.Orig))

	_, err := c.conn.Receive(c.ctx)
	require.Error(t, err)
}

func TestRelay_TwoSides(t *testing.T) {
	f := newFixture(t, server.Config{})
	a := f.bound(t, "aaaa")
	b := f.bound(t, "bbbb")

	a.send(wire.Allocate{})
	np := a.expect("allocated").Body.(wire.Allocated).Nameplate
	require.True(t, np.Valid())

	a.send(wire.Claim{Nameplate: np})
	mb := a.expect("claimed").Body.(wire.Claimed).Mailbox
	a.send(wire.Open{Mailbox: mb})
	addID := a.send(wire.Add{Phase: domain.PhasePake, Body: []byte("from a")})
	a.expect("ack")
	a.expect("ack")

	b.send(wire.List{})
	list := b.expect("nameplates").Body.(wire.Nameplates).Nameplates
	require.Equal(t, []wire.NameplateInfo{{ID: np}}, list)

	b.send(wire.Claim{Nameplate: np})
	require.Equal(t, mb, b.expect("claimed").Body.(wire.Claimed).Mailbox)
	b.send(wire.Open{Mailbox: mb})

	// The log is replayed on open.
	got := b.expect("message")
	assert.Equal(t, addID, got.ID)
	assert.Equal(t, wire.Message{Side: "aaaa", Phase: domain.PhasePake, Body: []byte("from a")}, got.Body)
	assert.NotZero(t, got.ServerRx)

	b.send(wire.Add{Phase: domain.PhasePake, Body: []byte("from b")})
	got = a.expect("message")
	assert.Equal(t, domain.Side("bbbb"), got.Body.(wire.Message).Side)
	assert.Equal(t, []byte("from b"), []byte(got.Body.(wire.Message).Body))

	b.send(wire.Release{})
	b.expect("released")

	a.send(wire.Close{Mailbox: mb, Mood: domain.MoodHappy})
	a.expect("closed")
	b.send(wire.Close{Mailbox: mb, Mood: domain.MoodHappy})
	b.expect("closed")

	require.Eventually(t, func() bool { return len(f.usage.records()) == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := f.usage.records()[0]
	assert.Equal(t, domain.ResultHappy, rec.Result)
	assert.Equal(t, 2, rec.Sides)
}

func TestCrowdedThirdSide(t *testing.T) {
	f := newFixture(t, server.Config{})
	a := f.bound(t, "aaaa")
	b := f.bound(t, "bbbb")
	c := f.bound(t, "cccc")

	a.send(wire.Claim{Nameplate: "5"})
	a.expect("claimed")
	b.send(wire.Claim{Nameplate: "5"})
	b.expect("claimed")
	c.send(wire.Claim{Nameplate: "5"})
	c.expectError("crowded")
}

func TestDisconnectClosesMailbox(t *testing.T) {
	f := newFixture(t, server.Config{})
	a := f.bound(t, "aaaa")
	b := f.bound(t, "bbbb")

	a.send(wire.Claim{Nameplate: "12"})
	mb := a.expect("claimed").Body.(wire.Claimed).Mailbox
	a.send(wire.Open{Mailbox: mb})
	b.send(wire.Claim{Nameplate: "12"})
	b.expect("claimed")
	b.send(wire.Open{Mailbox: mb})
	b.expect("ack")

	a.send(wire.Close{Mailbox: mb, Mood: domain.MoodHappy})
	a.expect("closed")
	require.NoError(t, b.conn.Close())

	require.Eventually(t, func() bool { return len(f.usage.records()) == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := f.usage.records()[0]
	assert.Equal(t, domain.ResultLonely, rec.Result)
	assert.ElementsMatch(t, []domain.Mood{domain.MoodHappy, domain.MoodLonely}, rec.Moods)

	nameplates, mailboxes := f.reg.Stats()
	assert.Zero(t, nameplates)
	assert.Zero(t, mailboxes)
}

func TestDuplicatePhaseIsDropped(t *testing.T) {
	f := newFixture(t, server.Config{})
	a := f.bound(t, "aaaa")
	b := f.bound(t, "bbbb")

	a.send(wire.Open{Mailbox: "shared"})
	a.send(wire.Add{Phase: "0", Body: []byte("first")})
	a.send(wire.Add{Phase: "0", Body: []byte("second")})
	a.send(wire.Add{Phase: "1", Body: []byte("third")})
	a.send(wire.Ping{Ping: 1})
	a.expect("pong")

	b.send(wire.Open{Mailbox: "shared"})
	assert.Equal(t, []byte("first"), []byte(b.expect("message").Body.(wire.Message).Body))
	assert.Equal(t, []byte("third"), []byte(b.expect("message").Body.(wire.Message).Body))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, server.Config{})
	a := f.bound(t, "aaaa")
	a.send(wire.Allocate{})
	a.expect("allocated")

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `wormhole_mailbox_messages_total{type="bind"} 1`)
	assert.Contains(t, body, `wormhole_mailbox_messages_total{type="allocate"} 1`)
	assert.Contains(t, body, "wormhole_mailbox_nameplates_allocated_total 1")
	assert.Contains(t, body, "wormhole_mailbox_nameplates 1")
	assert.Contains(t, body, "wormhole_mailbox_connections_total 1")
}

func TestOpen_ReplaysLongLog(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  server.Config
		n    int
	}{
		{"default queue", server.Config{}, 3 * server.DefaultSendQueue},
		{"small queue", server.Config{SendQueue: 8}, 20},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.cfg)
			a := f.bound(t, "aaaa")
			b := f.bound(t, "bbbb")

			a.send(wire.Claim{Nameplate: "7"})
			mb := a.expect("claimed").Body.(wire.Claimed).Mailbox
			a.send(wire.Open{Mailbox: mb})
			for i := 0; i < tc.n; i++ {
				a.send(wire.Add{Phase: domain.NumericPhase(uint64(i)), Body: []byte(strconv.Itoa(i))})
				a.expect("ack")
			}

			b.send(wire.Claim{Nameplate: "7"})
			b.expect("claimed")
			b.send(wire.Open{Mailbox: mb})
			for i := 0; i < tc.n; i++ {
				m := b.expect("message").Body.(wire.Message)
				require.Equal(t, domain.NumericPhase(uint64(i)), m.Phase)
			}

			// Live messages follow the backlog.
			a.send(wire.Add{Phase: "live", Body: []byte("after")})
			assert.Equal(t, domain.Phase("live"), b.expect("message").Body.(wire.Message).Phase)
			assert.Zero(t, counterValue(t, f.metrics.Gatherer(), "wormhole_mailbox_evicted_connections_total"))
		})
	}
}

// stalledConn is a server-side connection whose peer reads control replies
// but never reads a relayed message.
type stalledConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []string
}

func newStalledConn() *stalledConn {
	return &stalledConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *stalledConn) push(t *testing.T, body wire.ClientBody) {
	frame, err := wire.Encode(wire.ClientMessage{ID: wire.NewID(), Body: body})
	require.NoError(t, err)
	c.in <- frame
}

func (c *stalledConn) Send(ctx context.Context, frame []byte) error {
	m, err := wire.DecodeServer(frame)
	if err != nil {
		return err
	}
	if m.Type() == "message" {
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	c.sent = append(c.sent, m.Type())
	c.mu.Unlock()
	return nil
}

func (c *stalledConn) sawType(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sent {
		if s == typ {
			return true
		}
	}
	return false
}

func (c *stalledConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, relay.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *stalledConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var v float64
		for _, m := range mf.GetMetric() {
			v += m.GetCounter().GetValue()
		}
		return v
	}
	return 0
}

func TestSlowPeerIsEvicted(t *testing.T) {
	const queue = 4
	f := newFixture(t, server.Config{SendQueue: queue})
	a := f.bound(t, "aaaa")
	a.send(wire.Claim{Nameplate: "3"})
	mb := a.expect("claimed").Body.(wire.Claimed).Mailbox
	a.send(wire.Open{Mailbox: mb})

	slow := newStalledConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.srv.ServeConn(context.Background(), slow)
	}()
	slow.push(t, wire.Bind{AppID: app, Side: "bbbb"})
	slow.push(t, wire.Claim{Nameplate: "3"})
	slow.push(t, wire.Open{Mailbox: mb})
	slow.push(t, wire.Ping{Ping: 9})
	require.Eventually(t, func() bool { return slow.sawType("pong") }, 2*time.Second, 5*time.Millisecond)

	// One message blocks the writer, queue more fill the queue, the next
	// one overflows it.
	for i := 0; i < queue+2; i++ {
		a.send(wire.Add{Phase: domain.NumericPhase(uint64(i)), Body: []byte("x")})
		a.expect("ack")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("slow connection was not dropped")
	}
	assert.Equal(t, float64(1), counterValue(t, f.metrics.Gatherer(), "wormhole_mailbox_evicted_connections_total"))

	// The adding side carries on.
	a.send(wire.Add{Phase: "after", Body: []byte("y")})
	a.expect("ack")
	a.send(wire.Ping{Ping: 2})
	assert.Equal(t, 2, a.expect("pong").Body.(wire.Pong).Pong)
}
