// Package wormhole drives the client side of a magic wormhole.
//
// A Session walks through
//
//	Idle -> Connected -> NameplateClaimed -> PakeSent -> KeyConfirmSent -> Ready -> Closed
//
// and ends in Failed on any error. Connect binds to the mailbox server,
// Claim settles the code and claims its nameplate, Exchange runs SPAKE2 and
// key confirmation. Once Ready, Send and Receive move sealed application
// messages under numeric phases "0", "1", ...
//
// # Errors
//
// Every failure is terminal. A failed session wipes its key material, tells
// the server how it ended and hangs up; retrying means building a new
// Session. Errors match the domain sentinels:
//   - domain.ErrCrowded: the nameplate already has two sides.
//   - domain.ErrWrongPassword: the key exchange or key confirmation failed.
//     A mistyped code and an attacker's guess look the same.
//   - domain.ErrCorrupted: a message failed to open after Ready.
//   - domain.ErrTimeout: Claim or Exchange ran past its configured bound.
//   - domain.ErrProtocol and domain.ErrTransport for everything else.
//
// Calling an operation in the wrong state returns ErrState and leaves the
// session as it was.
package wormhole
