package wire

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wormhole/internal/domain"
)

var (
	// ErrUnknownType is returned for a frame whose "type" is not a known
	// variant for its direction.
	ErrUnknownType error = &codecError{"unknown message type"}

	// ErrMissingField is returned when a variant's required field is absent.
	ErrMissingField error = &codecError{"missing field"}

	// ErrMalformed is returned when a frame is not a JSON object or a field
	// has the wrong shape.
	ErrMalformed error = &codecError{"malformed message"}

	errNoBody = errors.New("wire: message has no body")
)

type codecError struct{ msg string }

func (e *codecError) Error() string { return e.msg }

func (e *codecError) Is(target error) bool { return target == domain.ErrProtocol }

type clientHeader struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
}

type serverHeader struct {
	ID       string  `json:"id,omitempty"`
	ServerTx float64 `json:"server_tx"`
	ServerRx float64 `json:"server_rx,omitempty"`
	Type     string  `json:"type"`
}

// Frame is a ClientMessage or a ServerMessage.
type Frame interface {
	parts() (head, body any)
}

func (m ClientMessage) parts() (head, body any) {
	if m.Body == nil {
		return nil, nil
	}
	return clientHeader{ID: m.ID, Type: m.Body.clientType()}, m.Body
}

func (m ServerMessage) parts() (head, body any) {
	if m.Body == nil {
		return nil, nil
	}
	return serverHeader{ID: m.ID, ServerTx: m.ServerTx, ServerRx: m.ServerRx, Type: m.Body.serverType()}, m.Body
}

// Encode renders f as one JSON object: the envelope fields first, then the
// variant's own fields.
func Encode(f Frame) ([]byte, error) {
	head, body := f.parts()
	if body == nil {
		return nil, errNoBody
	}
	h, err := json.Marshal(head)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if len(b) <= 2 {
		return h, nil
	}
	out := make([]byte, 0, len(h)+len(b))
	out = append(out, h[:len(h)-1]...)
	out = append(out, ',')
	return append(out, b[1:]...), nil
}

// DecodeClient parses one client->server frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	fields, typ, err := splitFrame(data)
	if err != nil {
		return ClientMessage{}, err
	}
	var msg ClientMessage
	if err := field(fields, "id", &msg.ID); err != nil {
		return ClientMessage{}, err
	}

	switch typ {
	case "bind":
		msg.Body, err = decodeBody[Bind](data, fields, "appid", "side")
	case "list":
		msg.Body, err = decodeBody[List](data, fields)
	case "allocate":
		msg.Body, err = decodeBody[Allocate](data, fields)
	case "claim":
		msg.Body, err = decodeBody[Claim](data, fields, "nameplate")
	case "release":
		msg.Body, err = decodeBody[Release](data, fields)
	case "open":
		msg.Body, err = decodeBody[Open](data, fields, "mailbox")
	case "add":
		msg.Body, err = decodeBody[Add](data, fields, "phase", "body")
	case "close":
		msg.Body, err = decodeBody[Close](data, fields, "mailbox")
	case "ping":
		msg.Body, err = decodeBody[Ping](data, fields, "ping")
	default:
		return ClientMessage{}, fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	if err != nil {
		return ClientMessage{}, fmt.Errorf("%s: %w", typ, err)
	}
	return msg, nil
}

// DecodeServer parses one server->client frame.
func DecodeServer(data []byte) (ServerMessage, error) {
	fields, typ, err := splitFrame(data)
	if err != nil {
		return ServerMessage{}, err
	}
	var msg ServerMessage
	if err := field(fields, "id", &msg.ID); err != nil {
		return ServerMessage{}, err
	}
	if err := field(fields, "server_tx", &msg.ServerTx); err != nil {
		return ServerMessage{}, err
	}
	if err := field(fields, "server_rx", &msg.ServerRx); err != nil {
		return ServerMessage{}, err
	}

	switch typ {
	case "welcome":
		msg.Body, err = decodeBody[Welcome](data, fields, "welcome")
	case "nameplates":
		msg.Body, err = decodeBody[Nameplates](data, fields, "nameplates")
	case "allocated":
		msg.Body, err = decodeBody[Allocated](data, fields, "nameplate")
	case "claimed":
		msg.Body, err = decodeBody[Claimed](data, fields, "mailbox")
	case "released":
		msg.Body, err = decodeBody[Released](data, fields)
	case "message":
		msg.Body, err = decodeBody[Message](data, fields, "side", "phase", "body")
	case "closed":
		msg.Body, err = decodeBody[Closed](data, fields)
	case "ack":
		msg.Body, err = decodeBody[Ack](data, fields)
	case "error":
		msg.Body, err = decodeBody[Error](data, fields, "error")
	case "pong":
		msg.Body, err = decodeBody[Pong](data, fields, "pong")
	default:
		return ServerMessage{}, fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	if err != nil {
		return ServerMessage{}, fmt.Errorf("%s: %w", typ, err)
	}
	return msg, nil
}

func splitFrame(data []byte) (map[string]json.RawMessage, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, "", fmt.Errorf("%w: not an object", ErrMalformed)
	}
	if _, ok := fields["type"]; !ok {
		return nil, "", fmt.Errorf("%w %q", ErrMissingField, "type")
	}
	var typ string
	if err := field(fields, "type", &typ); err != nil {
		return nil, "", err
	}
	return fields, typ, nil
}

// field decodes an optional envelope field into out.
func field(fields map[string]json.RawMessage, name string, out any) error {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrMalformed, name, err)
	}
	return nil
}

func decodeBody[T any](data []byte, fields map[string]json.RawMessage, required ...string) (T, error) {
	var v T
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return v, fmt.Errorf("%w %q", ErrMissingField, name)
		}
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// NewID returns a fresh client message id: 2 random bytes, hex encoded.
func NewID() string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Timestamp converts t to the float seconds used by server_tx/server_rx.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Orig wraps a received frame so it can be echoed in an Error. Frames that
// are not valid JSON are carried as a JSON string.
func Orig(frame []byte) json.RawMessage {
	if json.Valid(frame) {
		return append(json.RawMessage(nil), frame...)
	}
	s, _ := json.Marshal(string(frame))
	return s
}
