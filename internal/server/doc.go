// Package server speaks the mailbox protocol to websocket clients.
//
// Every accepted connection gets a welcome, then one ack per well-formed
// message followed by the reply for that message type. Messages another side
// adds to an open mailbox are pushed as "message" frames.
//
// Each connection has a reader goroutine, which owns the protocol state, and
// a writer goroutine fed by a bounded queue. The mailbox registry delivers
// into that queue without blocking; a connection whose queue is full is
// dropped rather than slowing down its peer.
//
// When a client goes away the server releases its nameplate and closes its
// mailbox on its behalf, with mood "lonely", or "errory" if the connection
// failed.
package server
