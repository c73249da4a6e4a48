package wire

import (
	"encoding/json"

	"wormhole/internal/domain"
)

// ClientMessage is a message sent from a client to the mailbox server.
type ClientMessage struct {
	// ID is a short random tag the server echoes in its ack.
	ID   string
	Body ClientBody
}

// ClientBody is one of the client->server variants below. The set is closed.
type ClientBody interface {
	clientType() string
}

// ServerMessage is a message sent from the mailbox server to a client.
type ServerMessage struct {
	ID string
	// ServerTx is when the message left the server (seconds since epoch).
	ServerTx float64
	// ServerRx is when the server received the client message this one
	// relays; zero when not applicable.
	ServerRx float64
	Body     ServerBody
}

// ServerBody is one of the server->client variants below. The set is closed.
type ServerBody interface {
	serverType() string
}

// Client -> server.
type (
	// Bind {appid, side} must be the first message on a connection.
	Bind struct {
		AppID domain.AppID `json:"appid"`
		Side  domain.Side  `json:"side"`
	}
	// List {} -> Nameplates.
	List struct{}
	// Allocate {} -> Allocated.
	Allocate struct{}
	// Claim {nameplate} -> Claimed.
	Claim struct {
		Nameplate domain.Nameplate `json:"nameplate"`
	}
	// Release {nameplate?, mood?} -> Released.
	Release struct {
		Nameplate domain.Nameplate `json:"nameplate,omitempty"`
		Mood      domain.Mood      `json:"mood,omitempty"`
	}
	// Open {mailbox}; replays the mailbox log as Message.
	Open struct {
		Mailbox domain.MailboxID `json:"mailbox"`
	}
	// Add {phase, body} -> Message to the other side.
	Add struct {
		Phase domain.Phase `json:"phase"`
		Body  HexBytes     `json:"body"`
	}
	// Close {mailbox, mood} -> Closed.
	Close struct {
		Mailbox domain.MailboxID `json:"mailbox"`
		Mood    domain.Mood      `json:"mood"`
	}
	// Ping {ping} -> Pong.
	Ping struct {
		Ping int `json:"ping"`
	}
)

func (Bind) clientType() string     { return "bind" }
func (List) clientType() string     { return "list" }
func (Allocate) clientType() string { return "allocate" }
func (Claim) clientType() string    { return "claim" }
func (Release) clientType() string  { return "release" }
func (Open) clientType() string     { return "open" }
func (Add) clientType() string      { return "add" }
func (Close) clientType() string    { return "close" }
func (Ping) clientType() string     { return "ping" }

// Server -> client.
type (
	// Welcome is sent as soon as a connection is accepted.
	Welcome struct {
		Welcome WelcomeInfo `json:"welcome"`
	}
	// Nameplates answers List.
	Nameplates struct {
		Nameplates []NameplateInfo `json:"nameplates"`
	}
	// Allocated answers Allocate.
	Allocated struct {
		Nameplate domain.Nameplate `json:"nameplate"`
	}
	// Claimed answers Claim.
	Claimed struct {
		Mailbox domain.MailboxID `json:"mailbox"`
	}
	// Released answers Release.
	Released struct{}
	// Message relays one Add from the other side.
	Message struct {
		Side  domain.Side  `json:"side"`
		Phase domain.Phase `json:"phase"`
		Body  HexBytes     `json:"body"`
	}
	// Closed answers Close.
	Closed struct{}
	// Ack is sent for every client message the server parsed.
	Ack struct{}
	// Error reports a rejected client message.
	Error struct {
		Error string          `json:"error"`
		Orig  json.RawMessage `json:"orig,omitempty"`
	}
	// Pong answers Ping.
	Pong struct {
		Pong int `json:"pong"`
	}
)

// WelcomeInfo is shown to the user on connect. A non-empty Error means the
// client must display it and give up.
type WelcomeInfo struct {
	MOTD  string `json:"motd,omitempty"`
	Error string `json:"error,omitempty"`
}

// NameplateInfo is one entry of Nameplates.
type NameplateInfo struct {
	ID domain.Nameplate `json:"id"`
}

func (Welcome) serverType() string    { return "welcome" }
func (Nameplates) serverType() string { return "nameplates" }
func (Allocated) serverType() string  { return "allocated" }
func (Claimed) serverType() string    { return "claimed" }
func (Released) serverType() string   { return "released" }
func (Message) serverType() string    { return "message" }
func (Closed) serverType() string     { return "closed" }
func (Ack) serverType() string        { return "ack" }
func (Error) serverType() string      { return "error" }
func (Pong) serverType() string       { return "pong" }

// Type returns the discriminant of a client message body.
func (m ClientMessage) Type() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.clientType()
}

// Type returns the discriminant of a server message body.
func (m ServerMessage) Type() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.serverType()
}
