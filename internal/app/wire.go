package app

import (
	"gopkg.in/op/go-logging.v1"

	"wormhole/internal/domain"
	wlog "wormhole/internal/log"
	"wormhole/internal/relay"
	"wormhole/internal/wormhole"
)

// Wire bundles what a client command needs to open wormholes.
type Wire struct {
	Config Config
	Dialer domain.Dialer
	Log    *logging.Logger

	backend *wlog.Backend
}

// NewWire constructs the client dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	cfg.fixup()

	file := cfg.LogFile
	if file == "" {
		file = wlog.Stderr
	}
	backend, err := wlog.New(file, cfg.LogLevel, false)
	if err != nil {
		return nil, err
	}

	return &Wire{
		Config:  cfg,
		Dialer:  &relay.Dialer{HTTPClient: cfg.HTTP},
		Log:     backend.GetLogger("wormhole"),
		backend: backend,
	}, nil
}

// NewSession returns an idle session for code. An empty code allocates a
// nameplate and generates one.
func (w *Wire) NewSession(code string) *wormhole.Session {
	return wormhole.New(wormhole.Config{
		RelayURL:     w.Config.RelayURL,
		AppID:        w.Config.AppID,
		Code:         code,
		CodeWords:    w.Config.CodeWords,
		ClaimTimeout: w.Config.Timeout,
		PakeTimeout:  w.Config.Timeout,
	}, w.Dialer, w.Log)
}

// Close closes the log file.
func (w *Wire) Close() error { return w.backend.Close() }
