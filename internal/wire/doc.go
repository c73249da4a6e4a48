// Package wire defines the JSON frames exchanged between wormhole clients and
// the mailbox server.
//
// Every frame is a single JSON object with a "type" discriminant. Client
// frames carry a short random "id" which the server echoes in its "ack";
// server frames carry "server_tx" (and "server_rx" for relayed messages) as
// float seconds since the epoch.
//
// Each variant is its own struct implementing the sealed ClientBody or
// ServerBody interface, so callers dispatch with a type switch:
//
//	msg, err := wire.DecodeClient(frame)
//	switch body := msg.Body.(type) {
//	case wire.Bind:
//		...
//	}
//
// # Notes
//
// Message bodies in "add"/"message" are opaque bytes, hex encoded. Only the
// "pake" and "version" phases have a plaintext structure, see phase.go.
//
// Decoding errors all match domain.ErrProtocol.
package wire
