// Package code builds and parses wormhole codes.
//
// A code is "<nameplate>-<word>-<word>...", e.g. "7-guitarist-revenge". The
// nameplate picks the mailbox on the server; the whole code, nameplate
// included, is the password both sides feed into the key exchange.
//
// Words come from the PGP word list, alternating between its two columns
// so a swapped pair of words reads oddly to a human.
package code
