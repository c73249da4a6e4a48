// Package log provides the logging backend shared by the mailbox server and
// the wormhole client, built on go-logging.
//
// A Backend hands out one *logging.Logger per module ("server", "mailbox",
// "usage", "wormhole") so levels can be tuned per subsystem. Log lines look
// like:
//
//	15:04:05.000 NOTI server: listening on :4000
package log
