// Command mailbox runs the magic wormhole mailbox server.
//
// Configuration comes from an optional TOML file (-f); --address, --metrics
// and --log-level override it. SIGINT and SIGTERM shut the server down,
// SIGHUP reopens the log file.
//
// The usage subcommand reads the usage database offline:
//
//	mailbox -f mailbox.toml usage --since 24h
//	mailbox -f mailbox.toml usage --export usage.json
package main
