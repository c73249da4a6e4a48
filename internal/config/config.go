package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	wlog "wormhole/internal/log"
	"wormhole/internal/server"
)

const (
	defaultAddress       = ":4000"
	defaultPath          = "/v1"
	defaultIdle          = 11 * time.Hour
	defaultPruneInterval = time.Hour
	defaultLogLevel      = "NOTICE"
)

// Server is the websocket listener configuration.
type Server struct {
	// Address is the host:port the websocket listener binds to.
	Address string
	// Path is the URL path clients connect to.
	Path string
	// MetricsAddress is where /metrics is served. Empty disables it.
	MetricsAddress string
	// MOTD is shown to every client on connect.
	MOTD string
	// WelcomeError, when set, turns every client away with this text.
	WelcomeError string
	// SendQueue is the per-connection outbound queue length.
	SendQueue int
	// AllowedOrigins are extra browser origin patterns to accept.
	AllowedOrigins []string
	// ReadLimit caps an inbound frame in bytes.
	ReadLimit int64
}

func (s *Server) validate() error {
	if s.Address == "" {
		s.Address = defaultAddress
	}
	if s.Path == "" {
		s.Path = defaultPath
	}
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("config: Server: Path %q must start with /", s.Path)
	}
	if s.MetricsAddress != "" && s.MetricsAddress == s.Address {
		return errors.New("config: Server: MetricsAddress must differ from Address")
	}
	if s.SendQueue < 0 {
		return fmt.Errorf("config: Server: invalid SendQueue %d", s.SendQueue)
	}
	if s.SendQueue == 0 {
		s.SendQueue = server.DefaultSendQueue
	}
	if s.ReadLimit < 0 {
		return fmt.Errorf("config: Server: invalid ReadLimit %d", s.ReadLimit)
	}
	return nil
}

// Timeouts controls idle reaping.
type Timeouts struct {
	// NameplateIdle and MailboxIdle are how long an untouched nameplate or
	// mailbox survives.
	NameplateIdle time.Duration
	MailboxIdle   time.Duration
	// PruneInterval is how often the reaper runs.
	PruneInterval time.Duration
}

func (t *Timeouts) validate() error {
	if t.NameplateIdle == 0 {
		t.NameplateIdle = defaultIdle
	}
	if t.MailboxIdle == 0 {
		t.MailboxIdle = defaultIdle
	}
	if t.PruneInterval == 0 {
		t.PruneInterval = defaultPruneInterval
	}
	if t.NameplateIdle < 0 || t.MailboxIdle < 0 || t.PruneInterval < 0 {
		return errors.New("config: Timeouts: durations must be positive")
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool
	// File is the log file; empty means stdout.
	File string
	// Level is one of ERROR, WARNING, NOTICE, INFO, DEBUG.
	Level string
}

func (l *Logging) validate() error {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	l.Level = strings.ToUpper(l.Level)
	if !wlog.ValidLevel(l.Level) {
		return fmt.Errorf("config: Logging: Level %q is invalid", l.Level)
	}
	return nil
}

// Usage configures the usage history database.
type Usage struct {
	// DBPath is the bbolt file. Empty disables usage recording.
	DBPath string
	// Retention is how long records are kept. Zero keeps them forever.
	Retention time.Duration
}

func (u *Usage) validate() error {
	if u.Retention < 0 {
		return errors.New("config: Usage: Retention must not be negative")
	}
	return nil
}

// Config is the top level mailbox server configuration.
type Config struct {
	Server   *Server
	Timeouts *Timeouts
	Logging  *Logging
	Usage    *Usage
}

// FixupAndValidate applies defaults to unset values and validates the rest.
func (c *Config) FixupAndValidate() error {
	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Timeouts == nil {
		c.Timeouts = &Timeouts{}
	}
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Usage == nil {
		c.Usage = &Usage{}
	}

	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Timeouts.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	return c.Usage.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}
