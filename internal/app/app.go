package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"wormhole/internal/config"
	wlog "wormhole/internal/log"
	"wormhole/internal/mailbox"
	"wormhole/internal/server"
	"wormhole/internal/usage"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Mailbox is an assembled mailbox server: registry, websocket handler,
// metrics and the optional usage database.
type Mailbox struct {
	cfg *config.Config

	logBackend *wlog.Backend
	log        *logging.Logger

	registry *mailbox.Registry
	server   *server.Server
	metrics  *server.Metrics
	usage    *usage.Store
}

// NewMailbox builds the server described by cfg. cfg must have been
// validated.
func NewMailbox(cfg *config.Config) (*Mailbox, error) {
	backend, err := wlog.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	m := &Mailbox{
		cfg:        cfg,
		logBackend: backend,
		log:        backend.GetLogger("mailbox"),
		metrics:    server.NewMetrics(),
	}

	var opts []mailbox.Option
	if cfg.Usage.DBPath != "" {
		m.usage, err = usage.Open(cfg.Usage.DBPath, backend.GetLogger("usage"))
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("app: usage database: %w", err)
		}
		opts = append(opts, mailbox.WithUsage(m.metrics.CountingRecorder(m.usage)))
	} else {
		opts = append(opts, mailbox.WithUsage(m.metrics.CountingRecorder(nil)))
	}

	m.registry = mailbox.New(backend.GetLogger("registry"), opts...)
	m.metrics.Track(m.registry)
	m.server = server.New(m.registry, server.Config{
		MOTD:           cfg.Server.MOTD,
		WelcomeError:   cfg.Server.WelcomeError,
		SendQueue:      cfg.Server.SendQueue,
		OriginPatterns: cfg.Server.AllowedOrigins,
		ReadLimit:      cfg.Server.ReadLimit,
	}, backend.GetLogger("server"), m.metrics)
	return m, nil
}

// Registry exposes the mailbox registry, mostly for tests.
func (m *Mailbox) Registry() *mailbox.Registry { return m.registry }

// Usage returns the usage store, or nil when recording is disabled.
func (m *Mailbox) Usage() *usage.Store { return m.usage }

// Handler serves the websocket endpoint on the configured path.
func (m *Mailbox) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(m.cfg.Server.Path, m.server)
	return mux
}

// Run listens on the configured addresses and serves until ctx is done.
func (m *Mailbox) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.Server.Address)
	if err != nil {
		return err
	}
	var metricsLn net.Listener
	if m.cfg.Server.MetricsAddress != "" {
		if metricsLn, err = net.Listen("tcp", m.cfg.Server.MetricsAddress); err != nil {
			_ = ln.Close()
			return err
		}
	}
	return m.Serve(ctx, ln, metricsLn)
}

// Serve serves websocket clients on ln, and /metrics on metricsLn when it is
// not nil, until ctx is done or a listener fails. The reaper and, when
// configured, the usage retention loop run alongside.
func (m *Mailbox) Serve(ctx context.Context, ln, metricsLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{m.httpServer(ctx, m.Handler())}
	listeners := []net.Listener{ln}
	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.metrics.Handler())
		servers = append(servers, m.httpServer(ctx, mux))
		listeners = append(listeners, metricsLn)
	}
	for i := range servers {
		srv, l := servers[i], listeners[i]
		m.log.Noticef("listening on %s", l.Addr())
		g.Go(func() error {
			if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	t := m.cfg.Timeouts
	g.Go(func() error {
		return m.registry.RunPruner(ctx, t.PruneInterval, t.NameplateIdle, t.MailboxIdle)
	})
	if m.usage != nil && m.cfg.Usage.Retention > 0 {
		g.Go(func() error { return m.expireUsage(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				m.log.Warningf("shutdown: %v", err)
			}
		}
		// Hijacked websocket connections are not tracked by the http
		// server; they end when their request context (ctx) is cancelled.
		m.server.Wait()
		return nil
	})

	err := g.Wait()
	m.log.Notice("stopped")
	return err
}

func (m *Mailbox) httpServer(ctx context.Context, h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          m.logBackend.GetGoLogger("http", "WARNING"),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

// expireUsage drops usage records older than the retention period, checking
// once per prune interval.
func (m *Mailbox) expireUsage(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Timeouts.PruneInterval)
	defer ticker.Stop()
	for {
		n, err := m.usage.Expire(time.Now().Add(-m.cfg.Usage.Retention))
		switch {
		case err != nil:
			m.log.Errorf("expire usage: %v", err)
		case n > 0:
			m.log.Infof("expired %d usage records", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RotateLog reopens the log file.
func (m *Mailbox) RotateLog() error { return m.logBackend.Rotate() }

// Close releases the usage database and the log file. Call it after Serve
// returned.
func (m *Mailbox) Close() error {
	var err error
	if m.usage != nil {
		err = m.usage.Close()
	}
	return errors.Join(err, m.logBackend.Close())
}
