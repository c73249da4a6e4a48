// Package commands defines the wormhole CLI.
//
// Commands
//
//   - send       Send a text message; prints the code to pass on
//   - receive    Receive a text message using a code
//
// # Implementation
//
// The root command builds an app.Wire (dialer, logger) from the persistent
// flags before any subcommand runs. Each transfer is one wormhole session:
// the sender's offer travels in phase 0 and the receiver's answer in phase
// 1, both as JSON.
package commands
