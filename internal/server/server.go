package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"wormhole/internal/domain"
	wlog "wormhole/internal/log"
	"wormhole/internal/mailbox"
	"wormhole/internal/relay"
	"wormhole/internal/wire"
)

// DefaultSendQueue is the per-connection outbound queue length.
const DefaultSendQueue = 64

// drainTimeout bounds how long a closing connection may spend flushing
// replies that were already queued.
const drainTimeout = time.Second

// Config holds the knobs of the connection handler.
type Config struct {
	// MOTD is shown by clients when they connect.
	MOTD string
	// WelcomeError, when set, is sent in the welcome and the connection is
	// closed. Clients display it and give up.
	WelcomeError string
	// SendQueue bounds the outbound queue of every connection. A peer whose
	// queue is full is disconnected.
	SendQueue int
	// OriginPatterns lists extra browser origins allowed to connect.
	OriginPatterns []string
	// ReadLimit bounds an inbound frame. Zero means relay.DefaultReadLimit.
	ReadLimit int64
}

// Server accepts websocket connections and speaks the mailbox protocol on
// each, against a shared registry.
type Server struct {
	cfg     Config
	reg     *mailbox.Registry
	log     *logging.Logger
	metrics *Metrics
	now     func() time.Time

	wg sync.WaitGroup
}

// New returns a Server. A nil logger discards; nil metrics are replaced by a
// private set.
func New(reg *mailbox.Registry, cfg Config, log *logging.Logger, metrics *Metrics) *Server {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if log == nil {
		log = wlog.Discard("server")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		cfg:     cfg,
		reg:     reg,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}
}

// ServeHTTP upgrades the request to a websocket and serves it until either
// side hangs up.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := relay.Accept(w, r, relay.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
		ReadLimit:      s.cfg.ReadLimit,
	})
	if err != nil {
		s.log.Debugf("rejected connection from %s: %v", r.RemoteAddr, err)
		return
	}
	s.ServeConn(r.Context(), c)
}

// ServeConn runs the protocol on an accepted connection and closes it.
func (s *Server) ServeConn(ctx context.Context, conn domain.Conn) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.metrics.connections.Inc()
	s.metrics.activeConnections.Inc()
	defer s.metrics.activeConnections.Dec()

	c := newConnection(s, conn, uuid.NewString())
	s.log.Debugf("%s: connected", c.id)
	c.run(ctx)
	s.log.Debugf("%s: disconnected", c.id)
}

// Wait blocks until every connection handler returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) welcome() wire.WelcomeInfo {
	return wire.WelcomeInfo{MOTD: s.cfg.MOTD, Error: s.cfg.WelcomeError}
}
