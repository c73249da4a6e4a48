// Package app wires application dependencies for the binaries.
//
// # Mailbox server
//
// NewMailbox builds the registry, websocket handler, metrics and optional
// usage database from a validated config.Config. Serve runs the listeners,
// the idle reaper and the usage retention loop under one errgroup and
// returns once they all stopped.
//
// # Client
//
// NewWire builds the websocket dialer and logger from Config and hands out
// sessions via NewSession, so commands never touch the relay package.
package app
