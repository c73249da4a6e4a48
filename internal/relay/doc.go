// Package relay carries wire frames between wormhole clients and the mailbox
// server over websockets.
//
// The mailbox server is an untrusted middleman: it sees nameplates, mailbox
// ids, sides and phases, but message bodies after the "pake" phase are
// ciphertext it cannot open.
//
// This package offers both ends of the connection:
//   - Dialer / Dial: client side, used by the wormhole state machine.
//   - Accept: server side, used by the mailbox server's HTTP handler.
//
// Both return a *Conn implementing domain.Conn: one JSON frame per text
// message, a per-frame read limit, and context-aware Send/Receive.
//
// # Errors
//
// Transport failures wrap domain.ErrTransport. A normal close by the peer is
// reported as ErrClosed. When the caller's context ends, the context error
// is returned as is so callers can tell timeouts from network failures.
package relay
