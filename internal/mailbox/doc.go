// Package mailbox implements the mailbox server's registry of nameplates and
// mailboxes.
//
// Contents
//
//   - Registry: every nameplate and mailbox, namespaced by application id,
//     behind one mutex.
//   - Subscriber: how an open side receives relayed messages.
//   - Prune / RunPruner: idle reaping.
//
// # Lifecycle
//
// A nameplate is a short number two sides agree on out of band. Claiming it
// binds the side to the nameplate's mailbox; the nameplate is freed when
// every claimant released it. A mailbox is an append-only log of
// (side, phase, body) messages. Opening it replays the log to the new side
// and subscribes it to later messages from the other side. A mailbox admits
// at most two sides; it is deleted, and a usage summary recorded, once every
// side that claimed or opened it has closed.
//
// # Notes
//
// Subscriber methods run under the registry lock. They must hand the message
// off (e.g. to a bounded channel) and return; a slow connection is evicted,
// never waited on. The log replayed on open comes in a single Replay call
// and is not counted against that bound.
//
// Bodies are opaque. The registry never parses or validates them.
package mailbox
