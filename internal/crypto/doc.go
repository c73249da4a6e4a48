// Package crypto exposes the minimal primitives used by the wormhole client.
//
// Contents
//
//   - Symmetric SPAKE2 over the wormhole code (StartPake, Pake.Finish)
//   - HKDF-SHA256 key derivation with explicit purpose labels (DeriveKey,
//     SessionKey, PhaseKey, Verifier)
//   - NaCl secretbox sealing with a random prepended nonce (Seal, Open)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//
// # Notes
//
// Every derived key carries its own label so no two purposes ever see the
// same key bytes. Open fails closed: callers get either the full plaintext or
// ErrDecrypt. A Pake is single use and holds nothing after Finish.
package crypto
