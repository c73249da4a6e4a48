package app

import (
	"net/http"
	"time"

	"wormhole/internal/domain"
)

// DefaultRelayURL is the public mailbox server.
const DefaultRelayURL = "ws://relay.magic-wormhole.io:4000/v1"

// DefaultAppID namespaces the command line client on the server.
const DefaultAppID = domain.AppID("lothar.com/wormhole/text-or-file-xfer")

// Config holds runtime wiring options for the command line client.
type Config struct {
	RelayURL string       // mailbox websocket URL, e.g. ws://127.0.0.1:4000/v1
	AppID    domain.AppID // must match on both sides
	HTTP     *http.Client // optional; used for the websocket handshake

	CodeWords int           // words in a generated code
	Timeout   time.Duration // bounds claiming and the key exchange; zero waits forever

	LogFile  string // empty logs to stderr
	LogLevel string // go-logging level name
}

func (c *Config) fixup() {
	if c.RelayURL == "" {
		c.RelayURL = DefaultRelayURL
	}
	if c.AppID == "" {
		c.AppID = DefaultAppID
	}
	if c.LogLevel == "" {
		c.LogLevel = "WARNING"
	}
}
