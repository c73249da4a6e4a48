// Package usage keeps a history of retired mailboxes in a bbolt database.
//
// The mailbox server hands every finished mailbox to Store.RecordUsage. Each
// record is CBOR encoded under a key made of the mailbox's start time (big
// endian nanoseconds) followed by its id, so a cursor walks the history in
// time order.
//
// Nothing in a record is secret: the server never sees codes or plaintext.
// Records hold the app id, nameplate, mailbox id, timings, moods and result.
package usage
